// Package digest implements the content digest primitive used to key every
// blob in the cluster: a SHA-256 hash paired with a declared byte size.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// A Digest is a value type identifying a blob by the SHA-256 hash of its
// contents and its length in bytes. Two digests compare equal with == iff
// both fields match.
type Digest struct {
	Hash [32]byte
	Size int64
}

// Empty is the digest of the zero-length byte string.
var Empty = Of(nil)

// Of computes the digest of b.
func Of(b []byte) Digest {
	return Digest{Hash: sha256.Sum256(b), Size: int64(len(b))}
}

// OfReader computes the digest of everything read from r.
func OfReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return Digest{Hash: sum, Size: n}, nil
}

// FromHex builds a Digest from a hex-encoded hash and explicit size, as
// found on the wire (ByteStream resource names, Digest protos). It returns
// an error if hash is not a valid 64-character hex SHA-256 string.
func FromHex(hash string, size int64) (Digest, error) {
	if len(hash) != 64 {
		return Digest{}, fmt.Errorf("invalid digest hash %q: want 64 hex characters, got %d", hash, len(hash))
	}
	b, err := hex.DecodeString(hash)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest hash %q: %w", hash, err)
	}
	var sum [32]byte
	copy(sum[:], b)
	return Digest{Hash: sum, Size: size}, nil
}

// FromProto builds a Digest from a build.bazel.remote.execution.v2.Digest
// message, validating the hash length.
func FromProto(d *pb.Digest) (Digest, error) {
	if d == nil {
		return Digest{}, fmt.Errorf("nil digest proto")
	}
	return FromHex(d.Hash, d.SizeBytes)
}

// Hex returns the lower-case hex encoding of the hash.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Hash[:])
}

// String implements fmt.Stringer, returning "hash/size" as used in resource
// names (§4.3 of the spec).
func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hex(), d.Size)
}

// IsEmpty reports whether d is the digest of the empty blob.
func (d Digest) IsEmpty() bool {
	return d == Empty
}

// Proto converts d to a build.bazel.remote.execution.v2.Digest message.
func (d Digest) Proto() *pb.Digest {
	return &pb.Digest{Hash: d.Hex(), SizeBytes: d.Size}
}
