package authproxy

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// testKeySet generates an RSA key pair and wraps it in a JWKSet under kid,
// returning both so callers can sign tokens and verify them against the
// same set.
func testKeySet(t *testing.T, kid string) (*rsa.PrivateKey, *JWKSet) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	doc := jwkSetDoc{Keys: []jwk{{
		Kty: "RSA",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(bigEndianUint(key.PublicKey.E)),
	}}}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	set, err := ParseJWKSet(raw)
	require.NoError(t, err)
	return key, set
}

func bigEndianUint(v int) []byte {
	b := []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims rexecClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTAuthenticatorAcceptsValidToken(t *testing.T) {
	key, set := testKeySet(t, "key-1")
	auth := NewJWTAuthenticator(set)
	now := time.Now()
	tok := signToken(t, key, "key-1", rexecClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"cache_rw"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ToolchainCustomer: "acme",
	})

	id, err := auth.Authenticate(tok, "acme")
	require.NoError(t, err)
	require.Len(t, id.Permissions, 1)
	require.True(t, id.Allows(ReadWrite))
	require.False(t, id.Allows(Execute))
}

func TestJWTAuthenticatorRejectsWrongInstance(t *testing.T) {
	key, set := testKeySet(t, "key-1")
	auth := NewJWTAuthenticator(set)
	now := time.Now()
	tok := signToken(t, key, "key-1", rexecClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"exec"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ToolchainCustomer: "acme",
	})

	_, err := auth.Authenticate(tok, "other-customer")
	require.Error(t, err)
}

func TestJWTAuthenticatorRejectsUnknownKid(t *testing.T) {
	key, set := testKeySet(t, "key-1")
	auth := NewJWTAuthenticator(set)
	now := time.Now()
	tok := signToken(t, key, "key-does-not-exist", rexecClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"exec"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ToolchainCustomer: "acme",
	})

	_, err := auth.Authenticate(tok, "acme")
	require.Error(t, err)
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	key, set := testKeySet(t, "key-1")
	auth := NewJWTAuthenticator(set)
	now := time.Now()
	tok := signToken(t, key, "key-1", rexecClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"exec"},
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
		},
		ToolchainCustomer: "acme",
	})

	_, err := auth.Authenticate(tok, "acme")
	require.Error(t, err)
}
