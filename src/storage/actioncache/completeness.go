package actioncache

import (
	"context"
	"io"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/storage"
)

// CollectReferencedDigests gathers every blob digest an ActionResult
// references: stdout, stderr, each output file, and — for each output
// directory — every file digest reachable from its Tree proto (root plus
// every Children entry). Directory digests inside the Tree are not
// themselves collected, since they aren't separately content-addressed:
// they're embedded in the Tree message. Grounded on
// original_source/storage/api/action_cache_service.rs's tree-expansion walk.
func CollectReferencedDigests(ctx context.Context, cas storage.BlobStorage, instance string, result *pb.ActionResult) ([]digest.Digest, error) {
	var out []digest.Digest

	add := func(d *pb.Digest) error {
		if d == nil || d.SizeBytes == 0 {
			return nil
		}
		dg, err := digest.FromProto(d)
		if err != nil {
			return storage.ErrInvalidArgument("bad digest in action result: %v", err)
		}
		out = append(out, dg)
		return nil
	}

	if err := add(result.GetStdoutDigest()); err != nil {
		return nil, err
	}
	if err := add(result.GetStderrDigest()); err != nil {
		return nil, err
	}
	for _, f := range result.GetOutputFiles() {
		if err := add(f.GetDigest()); err != nil {
			return nil, err
		}
	}
	for _, dir := range result.GetOutputDirectories() {
		treeDigest := dir.GetTreeDigest()
		if treeDigest == nil {
			continue
		}
		treeDg, err := digest.FromProto(treeDigest)
		if err != nil {
			return nil, storage.ErrInvalidArgument("bad tree digest: %v", err)
		}
		tree, err := fetchTree(ctx, cas, instance, treeDg)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			// Tree itself missing from CAS; the caller's FindMissing pass
			// over `out` won't catch this since the tree digest is never
			// added to `out` (it isn't a leaf blob). Report it directly.
			out = append(out, treeDg)
			continue
		}
		for _, f := range tree.GetRoot().GetFiles() {
			if err := add(f.GetDigest()); err != nil {
				return nil, err
			}
		}
		for _, child := range tree.GetChildren() {
			for _, f := range child.GetFiles() {
				if err := add(f.GetDigest()); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func fetchTree(ctx context.Context, cas storage.BlobStorage, instance string, d digest.Digest) (*pb.Tree, error) {
	r, found, err := cas.Read(ctx, instance, d, storage.ReadOptions{})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, storage.ErrInternal(err)
	}
	tree := &pb.Tree{}
	if err := proto.Unmarshal(raw, tree); err != nil {
		return nil, storage.ErrInternal(err)
	}
	return tree, nil
}
