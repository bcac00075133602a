package storage

import (
	"context"
	"io"
	"log"

	"github.com/thought-machine/rexec/src/digest"
)

// DarkLaunch serves every call from Primary but also mirrors writes (and,
// optionally, existence checks) to Shadow so a new storage backend can be
// exercised with production traffic before it's promoted to primary. Shadow
// errors are logged, never returned to the caller, and never affect the
// result seen by anyone downstream.
type DarkLaunch struct {
	Primary BlobStorage
	Shadow  BlobStorage
	// MirrorReads also issues Shadow.FindMissing alongside Primary's, purely
	// to compare coverage; the result returned is always Primary's.
	MirrorReads bool
}

// NewDarkLaunch mirrors writes made to primary onto shadow as well.
func NewDarkLaunch(primary, shadow BlobStorage) *DarkLaunch {
	return &DarkLaunch{Primary: primary, Shadow: shadow}
}

func (d *DarkLaunch) EnsureInstance(ctx context.Context, instance string) error {
	if err := d.Shadow.EnsureInstance(ctx, instance); err != nil {
		log.Printf("dark launch shadow EnsureInstance(%s) failed: %v", instance, err)
	}
	return d.Primary.EnsureInstance(ctx, instance)
}

func (d *DarkLaunch) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	if d.MirrorReads {
		go func() {
			if _, err := d.Shadow.FindMissing(ctx, instance, digests); err != nil {
				log.Printf("dark launch shadow FindMissing failed: %v", err)
			}
		}()
	}
	return d.Primary.FindMissing(ctx, instance, digests)
}

func (d *DarkLaunch) Read(ctx context.Context, instance string, dg digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	return d.Primary.Read(ctx, instance, dg, opts)
}

func (d *DarkLaunch) BeginWrite(ctx context.Context, instance string, dg digest.Digest) (WriteAttempt, error) {
	primary, err := d.Primary.BeginWrite(ctx, instance, dg)
	if err != nil {
		return nil, err
	}
	shadow, shadowErr := d.Shadow.BeginWrite(ctx, instance, dg)
	if shadowErr != nil {
		log.Printf("dark launch shadow BeginWrite(%s) failed: %v", dg, shadowErr)
	}
	return &darkLaunchWrite{primary: primary, shadow: shadow, digest: dg}, nil
}

type darkLaunchWrite struct {
	primary WriteAttempt
	shadow  WriteAttempt // nil if the shadow BeginWrite failed
	digest  digest.Digest
}

func (w *darkLaunchWrite) Write(ctx context.Context, p []byte) error {
	if w.shadow != nil {
		if err := w.shadow.Write(ctx, p); err != nil {
			log.Printf("dark launch shadow write(%s) failed: %v", w.digest, err)
			w.shadow = nil
		}
	}
	return w.primary.Write(ctx, p)
}

func (w *darkLaunchWrite) Commit(ctx context.Context) error {
	if w.shadow != nil {
		if err := w.shadow.Commit(ctx); err != nil && !IsAlreadyExists(err) {
			log.Printf("dark launch shadow commit(%s) failed: %v", w.digest, err)
		}
	}
	return w.primary.Commit(ctx)
}

func (w *darkLaunchWrite) Close() error {
	if w.shadow != nil {
		w.shadow.Close()
	}
	return w.primary.Close()
}
