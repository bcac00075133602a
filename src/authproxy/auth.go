package authproxy

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/cli/logging"
)

const bearerPrefix = "Bearer "

// Authenticator validates a bearer credential for a given instance, per
// one of §4.4's three schemes.
type Authenticator interface {
	Authenticate(token, instanceName string) (*Identity, error)
}

// devOnlyNoAuth is the `DevOnlyNoAuth` scheme: every request is granted
// Exec (the highest tier) for whatever instance it names, with no
// credential inspection at all.
type devOnlyNoAuth struct{}

func (devOnlyNoAuth) Authenticate(_, instanceName string) (*Identity, error) {
	return &Identity{InstanceName: instanceName, Permissions: []Permission{Exec}}, nil
}

// DevOnlyNoAuth is the shared instance of the bypass scheme.
var DevOnlyNoAuth Authenticator = devOnlyNoAuth{}

// authenticate extracts the bearer token from ctx's incoming metadata and
// validates it against scheme for instanceName, requiring req. Failures
// are logged with a truncated token prefix — never the full credential —
// per §6's observability-on-error rule, and returned as UNAUTHENTICATED or
// PERMISSION_DENIED per §6's status-code table.
func authenticate(ctx context.Context, scheme Authenticator, instanceName string, req Required) (*Identity, error) {
	token, err := bearerToken(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	id, err := scheme.Authenticate(token, instanceName)
	if err != nil {
		logging.Log.Warning("auth failed for instance %q (token prefix %s): %s", instanceName, truncateToken(token), err)
		return nil, status.Error(codes.Unauthenticated, "authentication failed")
	}
	if !id.Allows(req) {
		return nil, status.Error(codes.PermissionDenied, "insufficient permission")
	}
	return id, nil
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", fmt.Errorf("missing authorization header")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", fmt.Errorf("missing authorization header")
	}
	header := vals[0]
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", fmt.Errorf("malformed authorization header")
	}
	return strings.TrimPrefix(header, bearerPrefix), nil
}

func truncateToken(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10]
}
