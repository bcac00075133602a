package authproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thought-machine/rexec/src/cli/logging"
)

// tokenRecord is one entry of the opaque bearer-token mapping, per §4.4.
type tokenRecord struct {
	Token        string   `json:"token"`
	ID           string   `json:"id"`
	InstanceName string   `json:"instance_name"`
	CustomerSlug string   `json:"customer_slug"`
	IsActive     bool     `json:"is_active"`
	Permissions  []string `json:"permissions"`
}

// TokenAuthenticator validates opaque bearer tokens against a mapping
// that's hot-swapped wholesale by TokenRefresher, never mutated in place,
// so readers never see a half-updated map (§4.4, §5).
type TokenAuthenticator struct {
	mapping atomic.Value // map[string]tokenRecord
}

// NewTokenAuthenticator constructs a TokenAuthenticator with an empty
// mapping; it rejects every token until the refresher populates it.
func NewTokenAuthenticator() *TokenAuthenticator {
	t := &TokenAuthenticator{}
	t.mapping.Store(map[string]tokenRecord{})
	return t
}

// set installs a new mapping wholesale, replacing the old one atomically.
func (t *TokenAuthenticator) set(m map[string]tokenRecord) {
	t.mapping.Store(m)
}

// Authenticate looks token up in the current mapping snapshot.
func (t *TokenAuthenticator) Authenticate(token, instanceName string) (*Identity, error) {
	m := t.mapping.Load().(map[string]tokenRecord)
	rec, ok := m[token]
	if !ok {
		return nil, fmt.Errorf("unknown token")
	}
	if !rec.IsActive {
		return nil, fmt.Errorf("token %s is inactive", rec.ID)
	}
	if rec.InstanceName != instanceName {
		return nil, fmt.Errorf("token %s is scoped to instance %q, request is for %q", rec.ID, rec.InstanceName, instanceName)
	}
	perms := make([]Permission, 0, len(rec.Permissions))
	for _, p := range rec.Permissions {
		if perm, ok := ParsePermission(p); ok {
			perms = append(perms, perm)
		}
	}
	if len(perms) == 0 {
		return nil, fmt.Errorf("token %s grants no recognised permission", rec.ID)
	}
	return &Identity{InstanceName: instanceName, Permissions: perms}, nil
}

// S3Getter is the subset of the S3 client the refresher needs; satisfied by
// *s3.Client, and narrowed here so tests can fake object retrieval without
// standing up a real bucket.
type S3Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// TokenRefresherConfig describes where the auth-token mapping object lives
// and how often to poll it, mirroring the proxy config's
// auth_token_mapping block (§6).
type TokenRefresherConfig struct {
	Bucket          string
	Region          string
	Path            string
	RefreshInterval time.Duration
}

// TokenRefresher polls a versioned object in S3 for the current token
// mapping and installs it into a TokenAuthenticator, per §5's "Auth-token-
// mapping refresher (one per process; polls versioned object store,
// atomically swaps mapping)".
type TokenRefresher struct {
	client S3Getter
	cfg    TokenRefresherConfig
	auth   *TokenAuthenticator
}

// NewTokenRefresher constructs a refresher that will poll client for cfg's
// object and install updates into auth.
func NewTokenRefresher(client S3Getter, cfg TokenRefresherConfig, auth *TokenAuthenticator) *TokenRefresher {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	return &TokenRefresher{client: client, cfg: cfg, auth: auth}
}

// Run polls until ctx is done, fetching and installing the mapping object
// once up front and then every RefreshInterval. A fetch failure is logged
// and skipped; the previous mapping, if any, stays in effect.
func (r *TokenRefresher) Run(ctx context.Context) {
	r.refreshOnce(ctx)
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *TokenRefresher) refreshOnce(ctx context.Context) {
	m, err := r.fetch(ctx)
	if err != nil {
		logging.Log.Errorf("auth token mapping refresh failed: %s", err)
		return
	}
	r.auth.set(m)
	logging.Log.Info("auth token mapping refreshed: %d tokens", len(m))
}

func (r *TokenRefresher) fetch(ctx context.Context) (map[string]tokenRecord, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.cfg.Path),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", r.cfg.Bucket, r.cfg.Path, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", r.cfg.Bucket, r.cfg.Path, err)
	}
	var records []tokenRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", r.cfg.Bucket, r.cfg.Path, err)
	}
	m := make(map[string]tokenRecord, len(records))
	for _, rec := range records {
		m[rec.Token] = rec
	}
	return m, nil
}
