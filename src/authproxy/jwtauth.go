package authproxy

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// toolchainCustomerClaim is the private claim a JWT must carry matching
// the requested instance name, per §4.4.
const toolchainCustomerClaim = "toolchain_customer"

// rexecClaims is the custom claim set this cluster expects. Of the
// registered claims, exp and iat are validated by jwt.Parser itself; aud is
// mapped to a Permission by Authenticate, and ToolchainCustomer is the one
// private claim the proxy inspects directly.
type rexecClaims struct {
	jwt.RegisteredClaims
	ToolchainCustomer string `json:"toolchain_customer"`
}

// JWTAuthenticator validates bearer tokens as JWTs signed by one of a
// JWKSet's keys, per §4.4's `Jwt` scheme.
type JWTAuthenticator struct {
	keys *JWKSet
}

// NewJWTAuthenticator constructs a JWTAuthenticator backed by keys.
func NewJWTAuthenticator(keys *JWKSet) *JWTAuthenticator {
	return &JWTAuthenticator{keys: keys}
}

// Authenticate parses and validates token, checking that its audience
// grants at least one Permission and that toolchain_customer matches
// instanceName. Validation failures are always reported the same way the
// caller wraps into UNAUTHENTICATED; this function itself returns plain
// errors so it stays testable without a grpc dependency.
func (a *JWTAuthenticator) Authenticate(token, instanceName string) (*Identity, error) {
	claims := &rexecClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.keyFunc, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	aud := claims.RegisteredClaims.Audience
	if len(aud) == 0 {
		return nil, errors.New("token carries no audience")
	}
	perms := make([]Permission, 0, len(aud))
	for _, a := range aud {
		if p, ok := ParsePermission(a); ok {
			perms = append(perms, p)
		}
	}
	if len(perms) == 0 {
		return nil, fmt.Errorf("token audience %v grants no recognised permission", aud)
	}
	if claims.ToolchainCustomer != instanceName {
		return nil, fmt.Errorf("token issued for instance %q, request is for %q", claims.ToolchainCustomer, instanceName)
	}
	return &Identity{InstanceName: instanceName, Permissions: perms}, nil
}

func (a *JWTAuthenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("token header carries no kid")
	}
	key, ok := a.keys.Key(kid)
	if !ok {
		return nil, fmt.Errorf("no key for kid %q", kid)
	}
	return key, nil
}

// Identity is the authenticated principal a request carries forward from
// whichever scheme accepted it.
type Identity struct {
	InstanceName string
	Permissions  []Permission
}

// Allows reports whether the identity's permissions satisfy r.
func (id *Identity) Allows(r Required) bool {
	return SatisfiesAny(id.Permissions, r)
}
