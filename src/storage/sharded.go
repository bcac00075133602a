package storage

import (
	"context"
	"io"
	"sync"

	"github.com/thought-machine/rexec/src/digest"
)

// Sharded distributes blobs across a set of inner drivers on a consistent
// hash ring (§4.2): every digest maps to an ordered replica set of
// Replicas shards, the first being primary. See spec §4.2's "Sharded" row
// for the exact find_missing/read/write fan-out rules this implements.
type Sharded struct {
	Shards   []BlobStorage
	Ring     *Ring
	Replicas int
}

// NewSharded builds a sharded driver over shards, named shardNames (same
// order), with the given replica factor per digest.
func NewSharded(shards []BlobStorage, shardNames []string, replicas int) *Sharded {
	return &Sharded{Shards: shards, Ring: NewRing(shardNames), Replicas: replicas}
}

func (s *Sharded) replicaSet(d digest.Digest) []BlobStorage {
	idxs := s.Ring.Replicas(d.Hex(), s.Replicas)
	out := make([]BlobStorage, len(idxs))
	for i, idx := range idxs {
		out[i] = s.Shards[idx]
	}
	return out
}

func (s *Sharded) EnsureInstance(ctx context.Context, instance string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(s.Shards))
	for i, shard := range s.Shards {
		wg.Add(1)
		go func(i int, shard BlobStorage) {
			defer wg.Done()
			errs[i] = shard.EnsureInstance(ctx, instance)
		}(i, shard)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// FindMissing partitions digests by replica set and queries each replica in
// parallel. A digest is missing iff at least one replica answered and none
// reported it present. If every replica for a digest failed, the whole call
// fails Unavailable (property: "with all N unavailable, Unavailable
// surfaces").
func (s *Sharded) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	type answer struct {
		present bool
		err     error
	}

	results := make([][]answer, len(digests)) // per digest, per replica
	replicaSets := make([][]BlobStorage, len(digests))

	var wg sync.WaitGroup
	for i, d := range digests {
		if d.IsEmpty() {
			continue
		}
		replicas := s.replicaSet(d)
		replicaSets[i] = replicas
		results[i] = make([]answer, len(replicas))
		for r, shard := range replicas {
			wg.Add(1)
			go func(i, r int, shard BlobStorage, d digest.Digest) {
				defer wg.Done()
				missing, err := shard.FindMissing(ctx, instance, []digest.Digest{d})
				if err != nil {
					results[i][r] = answer{err: err}
					return
				}
				results[i][r] = answer{present: len(missing) == 0}
			}(i, r, shard, d)
		}
	}
	wg.Wait()

	missing := make([]digest.Digest, 0, len(digests))
	for i, d := range digests {
		if d.IsEmpty() {
			continue
		}
		answered := 0
		anyPresent := false
		for _, a := range results[i] {
			if a.err == nil {
				answered++
				if a.present {
					anyPresent = true
				}
			}
		}
		if answered == 0 {
			return nil, ErrUnavailable("all replicas for digest %s were unavailable", d.Hex())
		}
		if !anyPresent {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// Read races all replicas in the digest's replica set: the first one to
// return a stream wins. A replica reporting Unavailable is skipped; if all
// are unavailable the call fails Unavailable, otherwise a clean "not found"
// (found=false) is returned.
func (s *Sharded) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	replicas := s.replicaSet(d)
	type result struct {
		r     io.ReadCloser
		found bool
		err   error
	}
	results := make(chan result, len(replicas))
	for _, shard := range replicas {
		go func(shard BlobStorage) {
			r, found, err := shard.Read(ctx, instance, d, opts)
			results <- result{r, found, err}
		}(shard)
	}

	unavailable := 0
	for i := 0; i < len(replicas); i++ {
		res := <-results
		if res.err != nil {
			if CodeOf(res.err) == Unavailable {
				unavailable++
				continue
			}
			return nil, false, res.err
		}
		if res.found {
			return res.r, true, nil
		}
	}
	if unavailable == len(replicas) && len(replicas) > 0 {
		return nil, false, ErrUnavailable("all %d replicas unavailable for digest %s", len(replicas), d.Hex())
	}
	return nil, false, nil
}

// BeginWrite fans out to every replica in the set. If every replica already
// has the blob, the write short-circuits AlreadyExists. Otherwise chunks are
// written to whichever replicas are still healthy, dropping any that error;
// commit succeeds iff at least one replica committed.
func (s *Sharded) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	replicas := s.replicaSet(d)
	attempts := make([]WriteAttempt, 0, len(replicas))
	existsCount := 0
	for _, shard := range replicas {
		w, err := shard.BeginWrite(ctx, instance, d)
		if err != nil {
			if IsAlreadyExists(err) {
				existsCount++
			}
			continue
		}
		attempts = append(attempts, w)
	}
	if existsCount == len(replicas) && len(replicas) > 0 {
		for _, a := range attempts {
			a.Close()
		}
		return nil, ErrAlreadyExists(d.Hex())
	}
	return &shardedWrite{attempts: attempts}, nil
}

type shardedWrite struct {
	attempts []WriteAttempt
}

func (w *shardedWrite) Write(ctx context.Context, p []byte) error {
	alive := w.attempts[:0]
	for _, a := range w.attempts {
		if err := a.Write(ctx, p); err != nil {
			a.Close()
			continue
		}
		alive = append(alive, a)
	}
	w.attempts = alive
	if len(w.attempts) == 0 {
		return ErrUnavailable("every replica dropped this write")
	}
	return nil
}

func (w *shardedWrite) Commit(ctx context.Context) error {
	committed := 0
	for _, a := range w.attempts {
		if err := a.Commit(ctx); err == nil || IsAlreadyExists(err) {
			committed++
		}
	}
	if committed == 0 {
		return ErrUnavailable("no replica committed this write")
	}
	return nil
}

func (w *shardedWrite) Close() error {
	for _, a := range w.attempts {
		a.Close()
	}
	return nil
}
