package authproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func ctxWithBearer(token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestBearerTokenExtractsCredential(t *testing.T) {
	tok, err := bearerToken(ctxWithBearer("tok-1"))
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestBearerTokenRejectsMissingHeader(t *testing.T) {
	_, err := bearerToken(context.Background())
	assert.Error(t, err)
}

func TestBearerTokenRejectsMalformedHeader(t *testing.T) {
	md := metadata.Pairs("authorization", "tok-1")
	_, err := bearerToken(metadata.NewIncomingContext(context.Background(), md))
	assert.Error(t, err)
}

func TestTruncateToken(t *testing.T) {
	assert.Equal(t, "short", truncateToken("short"))
	assert.Equal(t, "0123456789", truncateToken("0123456789abcdef"))
}

func TestDevOnlyNoAuthGrantsExec(t *testing.T) {
	id, err := DevOnlyNoAuth.Authenticate("anything", "instance-a")
	require.NoError(t, err)
	assert.True(t, id.Allows(Execute))
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	_, err := authenticate(context.Background(), DevOnlyNoAuth, "instance-a", Read)
	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unauthenticated, s.Code())
}

type fixedAuthenticator struct {
	id  *Identity
	err error
}

func (f fixedAuthenticator) Authenticate(token, instanceName string) (*Identity, error) {
	return f.id, f.err
}

func TestAuthenticateRejectsInsufficientPermission(t *testing.T) {
	scheme := fixedAuthenticator{id: &Identity{InstanceName: "instance-a", Permissions: []Permission{CacheRO}}}
	_, err := authenticate(ctxWithBearer("tok"), scheme, "instance-a", Execute)
	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, s.Code())
}

func TestAuthenticateAllowsSufficientPermission(t *testing.T) {
	scheme := fixedAuthenticator{id: &Identity{InstanceName: "instance-a", Permissions: []Permission{Exec}}}
	id, err := authenticate(ctxWithBearer("tok"), scheme, "instance-a", Execute)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", id.InstanceName)
}
