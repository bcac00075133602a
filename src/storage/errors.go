package storage

import "fmt"

// Code classifies a storage failure independently of any wire protocol;
// src/grpcutil/status.go maps these onto gRPC status codes at the service
// boundary (§7 of the spec).
type Code int

const (
	// Internal covers unexpected conditions: decode failures, protocol
	// violations, anything that isn't one of the more specific codes below.
	Internal Code = iota
	Cancelled
	InvalidArgument
	InvalidSize
	InvalidHash
	Unavailable
	OutOfRange
	// AlreadyExists is produced by BeginWrite or WriteAttempt.Commit, as a
	// short-circuit signal that the blob is already stored.
	AlreadyExists
)

func (c Code) String() string {
	switch c {
	case Cancelled:
		return "Cancelled"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidSize:
		return "InvalidSize"
	case InvalidHash:
		return "InvalidHash"
	case Unavailable:
		return "Unavailable"
	case OutOfRange:
		return "OutOfRange"
	case AlreadyExists:
		return "AlreadyExists"
	default:
		return "Internal"
	}
}

// Error is the error type returned by every BlobStorage and WriteAttempt
// method. IsDataLoss distinguishes corruption discovered in the backend
// (DATA_LOSS at the wire) from a bad client upload (INVALID_ARGUMENT).
type Error struct {
	Code       Code
	Message    string
	Expected   string // expected hash/size, for InvalidHash/InvalidSize
	Actual     string // actual hash/size observed, for InvalidHash
	Param      string // offending parameter name, for OutOfRange
	Value      string // offending parameter value, for OutOfRange
	IsDataLoss bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// CodeOf extracts the Code from err, or Internal if err is not (or does not
// wrap) a *Error. A nil err yields Code(-1), which is none of the codes above.
func CodeOf(err error) Code {
	if err == nil {
		return Code(-1)
	}
	var se *Error
	if asError(err, &se) {
		return se.Code
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
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

// ErrCancelled reports client-side cancellation of an in-flight operation.
func ErrCancelled(msg string) error {
	return &Error{Code: Cancelled, Message: msg}
}

// ErrInvalidArgument reports a malformed request.
func ErrInvalidArgument(format string, args ...interface{}) error {
	return &Error{Code: InvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidSize reports that a committed write's byte count did not match
// the digest it was written under.
func ErrInvalidSize(expected int64, actual int64, isDataLoss bool) error {
	return &Error{
		Code:       InvalidSize,
		Message:    "blob size did not match its digest",
		Expected:   fmt.Sprintf("%d", expected),
		Actual:     fmt.Sprintf("%d", actual),
		IsDataLoss: isDataLoss,
	}
}

// ErrInvalidHash reports that a committed write's hash did not match the
// digest it was written under.
func ErrInvalidHash(expected, actual string, isDataLoss bool) error {
	return &Error{
		Code:       InvalidHash,
		Message:    "blob hash did not match its digest",
		Expected:   expected,
		Actual:     actual,
		IsDataLoss: isDataLoss,
	}
}

// ErrInternal wraps an unexpected underlying failure.
func ErrInternal(cause error) error {
	return &Error{Code: Internal, Message: "internal storage error", Cause: cause}
}

// ErrUnavailable reports that the backend (or a quorum of shards) could not
// be reached.
func ErrUnavailable(format string, args ...interface{}) error {
	return &Error{Code: Unavailable, Message: fmt.Sprintf(format, args...)}
}

// ErrOutOfRange reports a read offset/limit or write offset outside the
// valid range for the request.
func ErrOutOfRange(param string, value interface{}) error {
	return &Error{Code: OutOfRange, Param: param, Value: fmt.Sprintf("%v", value), Message: fmt.Sprintf("%s out of range: %v", param, value)}
}

// ErrAlreadyExists is the StreamingWriteError variant used by drivers (in
// BeginWrite or WriteAttempt.Commit) to short-circuit a write of a blob
// that is already published. CoalesceAlreadyExists converts it (and nothing else)
// into a nil error for callers that consider it a successful write.
func ErrAlreadyExists(digest string) error {
	return &Error{Code: AlreadyExists, Message: "blob already exists", Expected: digest}
}

// CoalesceAlreadyExists converts an AlreadyExists error into success; every
// other error (including nil) passes through unchanged.
func CoalesceAlreadyExists(err error) error {
	if CodeOf(err) == AlreadyExists {
		return nil
	}
	return err
}

// IsAlreadyExists reports whether err is an AlreadyExists error.
func IsAlreadyExists(err error) bool {
	return CodeOf(err) == AlreadyExists
}
