// Package actioncache implements the Action Cache described in spec §4.2.1:
// a key-value store from action digest to ActionResult, layered on top of a
// plain storage.BlobStorage (digests here are opaque keys, not hash-verified
// content addresses) plus the CAS for completeness checks and inline
// stdout/stderr resolution.
package actioncache

import (
	"context"
	"io"
	"math/rand"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/storage"
)

// Cache serves GetActionResult/UpdateActionResult over a BlobStorage
// keyed by action digest, optionally verifying referenced blobs are still
// present in the CAS before serving a cached entry (garbage-collected
// entries must not be handed back as hits).
type Cache struct {
	Store storage.BlobStorage
	CAS   storage.BlobStorage

	// CheckCompleteness enables the GC-safety completeness check.
	CheckCompleteness bool
	// CompletenessCheckProbability is sampled out of 1000 per lookup, per
	// §4.2.1 ("sampled at probability completeness_check_probability/1000").
	CompletenessCheckProbability int
	// BatchAPILimit bounds how large an individual blob may be before the
	// inline stdout/stderr helper refuses to read it eagerly.
	BatchAPILimit int64
}

// GetActionResult looks up the cached result for actionDigest. found is
// false if there is no entry, or if the completeness check (when sampled)
// finds a referenced blob missing from the CAS — both map to NOT_FOUND at
// the gRPC boundary.
func (c *Cache) GetActionResult(ctx context.Context, instance string, actionDigest digest.Digest, inlineStdout, inlineStderr bool) (*pb.ActionResult, bool, error) {
	r, found, err := c.Store.Read(ctx, instance, actionDigest, storage.ReadOptions{})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, false, storage.ErrInternal(err)
	}
	result := &pb.ActionResult{}
	if err := proto.Unmarshal(raw, result); err != nil {
		return nil, false, storage.ErrInternal(err)
	}

	if c.CheckCompleteness && c.sampled() {
		referenced, err := CollectReferencedDigests(ctx, c.CAS, instance, result)
		if err != nil {
			return nil, false, err
		}
		missing, err := c.CAS.FindMissing(ctx, instance, referenced)
		if err != nil {
			return nil, false, err
		}
		if len(missing) > 0 {
			return nil, false, nil
		}
	}

	if inlineStdout {
		if err := c.inline(ctx, instance, result.GetStdoutDigest(), &result.StdoutRaw); err != nil {
			return nil, false, err
		}
	}
	if inlineStderr {
		if err := c.inline(ctx, instance, result.GetStderrDigest(), &result.StderrRaw); err != nil {
			return nil, false, err
		}
	}
	return result, true, nil
}

func (c *Cache) sampled() bool {
	if c.CompletenessCheckProbability <= 0 {
		return false
	}
	if c.CompletenessCheckProbability >= 1000 {
		return true
	}
	return rand.Intn(1000) < c.CompletenessCheckProbability
}

// inline fetches the blob for d into *out, unless d is empty or larger than
// BatchAPILimit — the corrected predicate from the documented inline-read
// bug (spec §9 Open Questions): `size_bytes < 1 || size_bytes > limit`, not
// the unreachable `&&` form.
func (c *Cache) inline(ctx context.Context, instance string, d *pb.Digest, out *[]byte) error {
	if d == nil || d.SizeBytes < 1 || d.SizeBytes > c.BatchAPILimit {
		return nil
	}
	dg, err := digest.FromProto(d)
	if err != nil {
		return storage.ErrInvalidArgument("bad digest in action result: %v", err)
	}
	r, found, err := c.CAS.Read(ctx, instance, dg, storage.ReadOptions{})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return storage.ErrInternal(err)
	}
	*out = b
	return nil
}

// UpdateActionResult stores result under actionDigest. Inlined
// stdout_raw/stderr_raw are first written to the CAS under their own
// digests (AlreadyExists is treated as success) and the inline fields
// replaced with digest references, matching UpdateActionResult's
// documented contract in §4.2.1.
func (c *Cache) UpdateActionResult(ctx context.Context, instance string, actionDigest digest.Digest, result *pb.ActionResult) (*pb.ActionResult, error) {
	type job struct {
		raw    []byte
		assign func(*pb.Digest)
	}
	jobs := []job{}
	if len(result.StdoutRaw) > 0 {
		raw := result.StdoutRaw
		jobs = append(jobs, job{raw: raw, assign: func(d *pb.Digest) { result.StdoutDigest = d; result.StdoutRaw = nil }})
	}
	if len(result.StderrRaw) > 0 {
		raw := result.StderrRaw
		jobs = append(jobs, job{raw: raw, assign: func(d *pb.Digest) { result.StderrDigest = d; result.StderrRaw = nil }})
	}

	type outcome struct {
		d   *pb.Digest
		err error
	}
	outcomes := make([]outcome, len(jobs))
	done := make(chan int, len(jobs))
	for i, j := range jobs {
		go func(i int, j job) {
			dg := digest.Of(j.raw)
			if err := storage.CoalesceAlreadyExists(writeBlob(ctx, c.CAS, instance, dg, j.raw)); err != nil {
				outcomes[i] = outcome{err: err}
			} else {
				outcomes[i] = outcome{d: dg.Proto()}
			}
			done <- i
		}(i, j)
	}
	for range jobs {
		i := <-done
		if outcomes[i].err != nil {
			return nil, outcomes[i].err
		}
		jobs[i].assign(outcomes[i].d)
	}

	raw, err := proto.Marshal(result)
	if err != nil {
		return nil, storage.ErrInternal(err)
	}
	if err := storage.CoalesceAlreadyExists(writeBlob(ctx, c.Store, instance, actionDigest, raw)); err != nil {
		return nil, err
	}
	return result, nil
}

func writeBlob(ctx context.Context, s storage.BlobStorage, instance string, d digest.Digest, raw []byte) error {
	w, err := s.BeginWrite(ctx, instance, d)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Write(ctx, raw); err != nil {
		return err
	}
	return w.Commit(ctx)
}
