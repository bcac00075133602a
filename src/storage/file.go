package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/thought-machine/rexec/src/digest"
)

// File is a BlobStorage backed by the local filesystem, laid out exactly as
// specified in §6: blobs under
// {base}/v1/instances/{instance}/blobs/XX/YY/ZZ/{hex}-{size}.bin, in-flight
// writes under {base}/v1/tmp/{container}/{hex}-{size}.seq{N} so concurrent
// writers of the same digest don't collide, and a rename into place to
// publish atomically. Grounded on the teacher's cache/server/cache.go
// (StoreArtifact writes to a temp location then renames).
type File struct {
	base      string
	seq       uint64
	container string
}

// NewFile constructs a File driver rooted at base. container identifies
// this process for the purposes of the tmp directory layout (distinct
// processes get distinct tmp subdirectories so a crash doesn't leave stale
// files visible to another instance's cleanup).
func NewFile(base string) *File {
	return &File{base: base, container: uuid.NewString()}
}

func (f *File) EnsureInstance(ctx context.Context, instance string) error {
	return os.MkdirAll(f.blobsDir(instance), 0o755)
}

func (f *File) blobsDir(instance string) string {
	return filepath.Join(f.base, "v1", "instances", instance, "blobs")
}

func (f *File) blobPath(instance string, d digest.Digest) string {
	hex := d.Hex()
	return filepath.Join(f.blobsDir(instance), hex[0:2], hex[2:4], hex[4:6], fmt.Sprintf("%s-%d.bin", hex, d.Size))
}

func (f *File) tmpPath(d digest.Digest) string {
	n := atomic.AddUint64(&f.seq, 1)
	dir := filepath.Join(f.base, "v1", "tmp", f.container)
	return filepath.Join(dir, fmt.Sprintf("%s-%d.seq%d", d.Hex(), d.Size, n))
}

func (f *File) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	missing := make([]digest.Digest, 0, len(digests))
	for _, d := range digests {
		if d.IsEmpty() {
			continue
		}
		if _, err := os.Stat(f.blobPath(instance, d)); err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, d)
				continue
			}
			return nil, ErrInternal(err)
		}
	}
	return missing, nil
}

func (f *File) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	file, err := os.Open(f.blobPath(instance, d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, ErrInternal(err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, false, ErrInternal(err)
	}
	if opts.Offset < 0 || opts.Offset > info.Size() {
		file.Close()
		return nil, false, ErrOutOfRange("read_offset", opts.Offset)
	}
	if opts.Limit < 0 {
		file.Close()
		return nil, false, ErrOutOfRange("read_limit", opts.Limit)
	}
	if _, err := file.Seek(opts.Offset, io.SeekStart); err != nil {
		file.Close()
		return nil, false, ErrInternal(err)
	}
	if opts.Limit > 0 {
		return &limitedFile{f: file, r: io.LimitReader(file, opts.Limit)}, true, nil
	}
	return file, true, nil
}

// limitedFile wraps an *os.File with an io.LimitReader so Close still
// closes the underlying descriptor.
type limitedFile struct {
	f *os.File
	r io.Reader
}

func (l *limitedFile) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedFile) Close() error               { return l.f.Close() }

func (f *File) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	if _, err := os.Stat(f.blobPath(instance, d)); err == nil {
		return nil, ErrAlreadyExists(d.Hex())
	}
	tmp := f.tmpPath(d)
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return nil, ErrInternal(err)
	}
	file, err := os.Create(tmp)
	if err != nil {
		return nil, ErrInternal(err)
	}
	return &fileWrite{driver: f, instance: instance, digest: d, tmp: tmp, file: file}, nil
}

type fileWrite struct {
	driver    *File
	instance  string
	digest    digest.Digest
	tmp       string
	file      *os.File
	committed bool
}

func (w *fileWrite) Write(ctx context.Context, p []byte) error {
	if _, err := w.file.Write(p); err != nil {
		return ErrInternal(err)
	}
	return nil
}

func (w *fileWrite) Commit(ctx context.Context) error {
	if err := w.file.Close(); err != nil {
		return ErrInternal(err)
	}
	final := w.driver.blobPath(w.instance, w.digest)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		os.Remove(w.tmp)
		return ErrInternal(err)
	}
	if err := os.Rename(w.tmp, final); err != nil {
		// A concurrent writer may have published this digest first (or the
		// destination directory raced into existence); either way, if the
		// final blob is now present this is a successful no-op commit.
		os.Remove(w.tmp)
		if _, statErr := os.Stat(final); statErr == nil {
			w.committed = true
			return nil
		}
		return ErrInternal(err)
	}
	w.committed = true
	return nil
}

func (w *fileWrite) Close() error {
	if w.committed {
		return nil
	}
	w.file.Close()
	return os.Remove(w.tmp)
}
