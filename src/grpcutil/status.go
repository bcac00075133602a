// Package grpcutil collects the cross-service gRPC plumbing shared by the
// storage, execution and proxy servers: status-code translation, server
// bootstrap and the interceptor chain (§7, grounded on the grpc_util crate
// of the original implementation).
package grpcutil

import (
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thought-machine/rexec/src/storage"
)

// StorageStatus converts a storage.Error (or any error wrapping one) into
// the gRPC status the API boundary should return, per §7's mapping table.
// IsDataLoss errors surface as DATA_LOSS regardless of their storage.Code,
// since that distinction matters more to a caller than which layer noticed
// the corruption.
func StorageStatus(err error) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if !asStorageError(err, &se) {
		return status.Error(codes.Internal, err.Error())
	}
	if se.IsDataLoss {
		return status.Error(codes.DataLoss, se.Error())
	}
	return status.Error(storageCode(se.Code), se.Error())
}

func storageCode(c storage.Code) codes.Code {
	switch c {
	case storage.Cancelled:
		return codes.Cancelled
	case storage.InvalidArgument, storage.InvalidSize, storage.InvalidHash:
		return codes.InvalidArgument
	case storage.Unavailable:
		return codes.Unavailable
	case storage.OutOfRange:
		return codes.OutOfRange
	case storage.AlreadyExists:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

func asStorageError(err error, target **storage.Error) bool {
	for err != nil {
		if se, ok := err.(*storage.Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ToRPCStatus converts err (nil or otherwise) into the embedded
// google.rpc.Status used by batch response entries (BatchUpdateBlobs,
// BatchReadBlobs) and ActionResult completion metadata.
func ToRPCStatus(err error) *rpcstatus.Status {
	if err == nil {
		return &rpcstatus.Status{Code: int32(codes.OK)}
	}
	if st, ok := status.FromError(err); ok {
		return &rpcstatus.Status{Code: int32(st.Code()), Message: st.Message()}
	}
	st := status.Convert(StorageStatus(err))
	return &rpcstatus.Status{Code: int32(st.Code()), Message: st.Message()}
}

// RetryableCode reports whether c is one of the codes the proxy's retry
// policy treats as safe to retry exactly once (§5.4 / REDESIGN FLAGS).
func RetryableCode(c codes.Code) bool {
	switch c {
	case codes.Aborted, codes.Cancelled, codes.Internal, codes.ResourceExhausted, codes.Unavailable, codes.Unknown:
		return true
	default:
		return false
	}
}
