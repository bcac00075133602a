package authproxy

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
)

// JWKSet is a minimal JSON Web Key Set: just enough to select an RSA
// verification key by its `kid`, per §4.4's requirement to support
// multiple simultaneously-valid signing keys. There is no JWK library in
// the corpus's dependency surface (golang-jwt/jwt/v5 parses tokens but
// does not ship a key-set type), so this is a small hand-rolled decoder
// grounded directly on the RFC 7517 fields golang-jwt's RSA verifier needs.
type JWKSet struct {
	keys map[string]*rsa.PublicKey
}

// jwk is the subset of RFC 7517 fields this cluster's keys use: RSA keys
// identified by kid, with modulus/exponent base64url-encoded per RFC 7518.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSetDoc struct {
	Keys []jwk `json:"keys"`
}

// LoadJWKSet reads and parses a JWK Set document from path.
func LoadJWKSet(path string) (*JWKSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading jwk set: %w", err)
	}
	return ParseJWKSet(data)
}

// ParseJWKSet decodes a JWK Set document from raw JSON.
func ParseJWKSet(data []byte) (*JWKSet, error) {
	var doc jwkSetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding jwk set: %w", err)
	}
	set := &JWKSet{keys: map[string]*rsa.PublicKey{}}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.Kid, err)
		}
		set.keys[k.Kid] = pub
	}
	return set, nil
}

func (k jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64URLBigInt(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64URLBigInt(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func base64URLBigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// Key returns the public key for kid, and whether it was found.
func (s *JWKSet) Key(kid string) (*rsa.PublicKey, bool) {
	k, ok := s.keys[kid]
	return k, ok
}
