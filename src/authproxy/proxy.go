package authproxy

import (
	"time"
)

// Scheme names one of §4.4's three authentication schemes, as configured
// per listen address.
type Scheme int

const (
	// SchemeJwt validates bearer tokens as JWTs against a JWKSet.
	SchemeJwt Scheme = iota
	// SchemeAuthToken validates bearer tokens against the opaque token mapping.
	SchemeAuthToken
	// SchemeDevOnlyNoAuth bypasses authentication entirely.
	SchemeDevOnlyNoAuth
)

// ListenAddress is one entry of the proxy config's listen_addresses list:
// an address to bind, the scheme to authenticate with on it, and the set
// of fully-qualified gRPC service names it's willing to serve (§6).
type ListenAddress struct {
	Addr                string
	Scheme              Scheme
	AllowedServiceNames []string
}

// Proxy is the authenticating router: one Router for backend selection,
// one Authenticator per scheme in use, and the retry/timeout policy
// described in §4.4. The generated gRPC service implementations
// (cas_service.go, bytestream_service.go, actioncache_service.go,
// capabilities_service.go, execution_service.go, bots_service.go,
// operations_service.go) are all methods on *Proxy.
type Proxy struct {
	Router   *Router
	JWT      *JWTAuthenticator
	Token    *TokenAuthenticator
	Timeouts BackendTimeouts
}

// NewProxy constructs a Proxy. jwt and token may be nil if the
// corresponding scheme is never configured on a listen address; DevOnlyNoAuth
// needs no backing authenticator at all.
func NewProxy(router *Router, jwt *JWTAuthenticator, token *TokenAuthenticator, timeouts BackendTimeouts) *Proxy {
	return &Proxy{Router: router, JWT: jwt, Token: token, Timeouts: timeouts}
}

// schemeFor resolves a Scheme to its Authenticator.
func (p *Proxy) schemeFor(s Scheme) Authenticator {
	switch s {
	case SchemeJwt:
		return p.JWT
	case SchemeAuthToken:
		return p.Token
	default:
		return DevOnlyNoAuth
	}
}

// schemeKey is set per incoming connection by the listen-address
// interceptor (see listener.go) so service methods can look up which
// scheme applies without threading it through every call signature.
type schemeKey struct{}

// DefaultDialTimeout bounds how long main.go's initial backend dials may
// block; actual per-RPC timeouts (GetActionResult) are separate and
// configured via Timeouts.
const DefaultDialTimeout = 30 * time.Second
