package storage

import (
	"context"
	"io"

	"github.com/thought-machine/rexec/src/digest"
)

// SizeSplit routes blobs to one of two inner drivers by size: digests at or
// below Threshold go to Small, larger ones go to Large. FindMissing fans a
// mixed batch out to both and merges the results; EnsureInstance prepares
// both. This lets small (e.g. single-fragment Redis value) and large
// (e.g. chunked, rebatched) blobs use differently tuned pipelines without
// the caller needing to know which.
type SizeSplit struct {
	Small     BlobStorage
	Large     BlobStorage
	Threshold int64
}

// NewSizeSplit routes blobs <= threshold to small and the rest to large.
func NewSizeSplit(small, large BlobStorage, threshold int64) *SizeSplit {
	return &SizeSplit{Small: small, Large: large, Threshold: threshold}
}

func (s *SizeSplit) driverFor(d digest.Digest) BlobStorage {
	if d.Size <= s.Threshold {
		return s.Small
	}
	return s.Large
}

func (s *SizeSplit) EnsureInstance(ctx context.Context, instance string) error {
	if err := s.Small.EnsureInstance(ctx, instance); err != nil {
		return err
	}
	return s.Large.EnsureInstance(ctx, instance)
}

func (s *SizeSplit) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	var small, large []digest.Digest
	for _, d := range digests {
		if d.Size <= s.Threshold {
			small = append(small, d)
		} else {
			large = append(large, d)
		}
	}
	var missing []digest.Digest
	if len(small) > 0 {
		m, err := s.Small.FindMissing(ctx, instance, small)
		if err != nil {
			return nil, err
		}
		missing = append(missing, m...)
	}
	if len(large) > 0 {
		m, err := s.Large.FindMissing(ctx, instance, large)
		if err != nil {
			return nil, err
		}
		missing = append(missing, m...)
	}
	return missing, nil
}

func (s *SizeSplit) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	return s.driverFor(d).Read(ctx, instance, d, opts)
}

func (s *SizeSplit) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	return s.driverFor(d).BeginWrite(ctx, instance, d)
}
