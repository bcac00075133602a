package authproxy

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAuthenticatorRejectsUnknownToken(t *testing.T) {
	auth := NewTokenAuthenticator()
	_, err := auth.Authenticate("nope", "instance-a")
	assert.Error(t, err)
}

func TestTokenAuthenticatorValidatesMapping(t *testing.T) {
	auth := NewTokenAuthenticator()
	auth.set(map[string]tokenRecord{
		"tok-1": {
			Token:        "tok-1",
			ID:           "tok-1",
			InstanceName: "instance-a",
			IsActive:     true,
			Permissions:  []string{"cache_rw"},
		},
		"tok-2": {
			Token:        "tok-2",
			ID:           "tok-2",
			InstanceName: "instance-a",
			IsActive:     false,
			Permissions:  []string{"exec"},
		},
		"tok-3": {
			Token:        "tok-3",
			ID:           "tok-3",
			InstanceName: "instance-a",
			IsActive:     true,
			Permissions:  []string{"bogus"},
		},
	})

	id, err := auth.Authenticate("tok-1", "instance-a")
	require.NoError(t, err)
	assert.Equal(t, []Permission{CacheRW}, id.Permissions)

	_, err = auth.Authenticate("tok-1", "instance-b")
	assert.Error(t, err)

	_, err = auth.Authenticate("tok-2", "instance-a")
	assert.Error(t, err)

	_, err = auth.Authenticate("tok-3", "instance-a")
	assert.Error(t, err)
}

type fakeS3Getter struct {
	body []byte
	err  error
}

func (f *fakeS3Getter) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestTokenRefresherInstallsFetchedMapping(t *testing.T) {
	body := []byte(`[{"token":"tok-1","id":"tok-1","instance_name":"instance-a","is_active":true,"permissions":["cache_ro"]}]`)
	auth := NewTokenAuthenticator()
	r := NewTokenRefresher(&fakeS3Getter{body: body}, TokenRefresherConfig{Bucket: "b", Path: "p"}, auth)

	r.refreshOnce(context.Background())

	id, err := auth.Authenticate("tok-1", "instance-a")
	require.NoError(t, err)
	assert.Equal(t, []Permission{CacheRO}, id.Permissions)
}

func TestTokenRefresherKeepsPreviousMappingOnFetchError(t *testing.T) {
	auth := NewTokenAuthenticator()
	auth.set(map[string]tokenRecord{
		"tok-1": {Token: "tok-1", ID: "tok-1", InstanceName: "instance-a", IsActive: true, Permissions: []string{"cache_ro"}},
	})
	r := NewTokenRefresher(&fakeS3Getter{err: assert.AnError}, TokenRefresherConfig{Bucket: "b", Path: "p"}, auth)

	r.refreshOnce(context.Background())

	_, err := auth.Authenticate("tok-1", "instance-a")
	assert.NoError(t, err)
}
