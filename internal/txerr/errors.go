// Package txerr implements the error taxonomy of spec §7: a typed error
// with a code, detail map, and a gRPC status conversion, matching the
// structure of the teacher's storage-node/internal/errors/codes.go almost
// field for field.
package txerr

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode enumerates the failure categories named in spec §7.
type ErrorCode int

const (
	// ErrInvalidArgument covers malformed caller input.
	ErrInvalidArgument ErrorCode = iota + 1
	// ErrNotActive surfaces transient network failures: dropped RPCs, or a
	// handle that is currently absent.
	ErrNotActive
	// ErrPolicyUnsatisfiable means too few surviving servers satisfy the
	// configured replication policy, at either read or write time.
	ErrPolicyUnsatisfiable
	// ErrEpochEnded means the current epoch has ended: pushes never
	// complete, cursors terminate at the epoch boundary.
	ErrEpochEnded
	// ErrInternal is an unclassified internal failure.
	ErrInternal
	// ErrFatalInvariant marks a programming error spec §7 requires to
	// abort the process: anti-quorum >= replication factor, impossible
	// placement, or subsequence 0 observed in pushed data.
	ErrFatalInvariant
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrNotActive:
		return "not_active"
	case ErrPolicyUnsatisfiable:
		return "policy_unsatisfiable"
	case ErrEpochEnded:
		return "epoch_ended"
	case ErrInternal:
		return "internal"
	case ErrFatalInvariant:
		return "fatal_invariant"
	default:
		return "unknown"
	}
}

// LogError is a structured error carrying a taxonomy code and arbitrary
// detail fields, mirroring the teacher's StorageError.
type LogError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *LogError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *LogError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value detail and returns e for chaining.
func (e *LogError) WithDetail(key string, value interface{}) *LogError {
	e.Details[key] = value
	return e
}

// New constructs a LogError.
func New(code ErrorCode, message string, cause error) *LogError {
	return &LogError{Code: code, Message: message, Details: make(map[string]interface{}), Cause: cause}
}

// NotActive builds an ErrNotActive error for a cursor or push whose
// underlying server(s) are currently unreachable.
func NotActive(message string, cause error) *LogError {
	return New(ErrNotActive, message, cause)
}

// PolicyUnsatisfiable builds an ErrPolicyUnsatisfiable error.
func PolicyUnsatisfiable(message string, cause error) *LogError {
	return New(ErrPolicyUnsatisfiable, message, cause)
}

// EpochEnded builds an ErrEpochEnded error.
func EpochEnded(message string) *LogError {
	return New(ErrEpochEnded, message, nil)
}

// Internal builds an ErrInternal error.
func Internal(message string, cause error) *LogError {
	return New(ErrInternal, message, cause)
}

// FatalInvariant builds an ErrFatalInvariant error. Callers that detect
// such a condition should route it through Abort rather than returning it
// to a caller that might retry.
func FatalInvariant(message string, cause error) *LogError {
	return New(ErrFatalInvariant, message, cause)
}

// ToGRPCStatus converts e to a gRPC status, matching the classification the
// teacher applies in StorageError.ToGRPCStatus — used only if a real
// transport (out of scope here, see spec §1) needs to surface this error
// over RPC.
func (e *LogError) ToGRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Error())
}

func (e *LogError) grpcCode() codes.Code {
	switch e.Code {
	case ErrInvalidArgument:
		return codes.InvalidArgument
	case ErrNotActive:
		return codes.Unavailable
	case ErrPolicyUnsatisfiable:
		return codes.Unavailable
	case ErrEpochEnded:
		return codes.FailedPrecondition
	case ErrFatalInvariant:
		return codes.Internal
	default:
		return codes.Internal
	}
}

// IsLogError reports whether err is a *LogError.
func IsLogError(err error) bool {
	_, ok := err.(*LogError)
	return ok
}

// CodeOf extracts the ErrorCode from err, or ErrInternal if err is not a
// *LogError.
func CodeOf(err error) ErrorCode {
	if le, ok := err.(*LogError); ok {
		return le.Code
	}
	return ErrInternal
}
