// Package ingesterrors defines the semantic error kinds used across the
// ingestion pipeline (§7): each kind carries its own retry/propagation
// policy, decided by the caller via KindOf rather than string matching.
package ingesterrors

import (
	"errors"
	"fmt"
)

// Kind is a semantic error classification, not an implementation type.
type Kind string

const (
	// KindTransientRpc covers network/5xx/timeout/rate-limit RPC failures.
	// Policy: the Fetcher retries with exponential backoff; persistent
	// failure propagates to the poller, which sleeps and retries the same
	// block.
	KindTransientRpc Kind = "transient_rpc"

	// KindRpcMethodUnsupported applies only to the batch-receipts probe.
	// Policy: permanently latch to per-hash fan-out.
	KindRpcMethodUnsupported Kind = "rpc_method_unsupported"

	// KindDecodeFailure covers malformed or unexpectedly short event data.
	// Policy: drop the enriched row; the raw log and event count still
	// persist.
	KindDecodeFailure Kind = "decode_failure"

	// KindReorgDetected is not an error; it is a control-flow signal
	// handled by the reorg controller.
	KindReorgDetected Kind = "reorg_detected"

	// KindStoreFailure covers transaction abort on constraint violation or
	// I/O error. Policy: roll back, do not advance the checkpoint, retry
	// after a delay.
	KindStoreFailure Kind = "store_failure"

	// KindFatalConfig covers missing RPC URL or invalid schema. Policy:
	// exit non-zero at startup.
	KindFatalConfig Kind = "fatal_config"
)

// Error is a semantically-kinded error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "blockWithTxs"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s (caused by: %v)", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an *Error from an existing cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Cause: cause}
}

// TransientRpc wraps a transient RPC failure.
func TransientRpc(op string, cause error) *Error {
	return Wrap(KindTransientRpc, op, cause)
}

// RpcMethodUnsupported reports a method the RPC endpoint doesn't implement.
func RpcMethodUnsupported(op string, cause error) *Error {
	return Wrap(KindRpcMethodUnsupported, op, cause)
}

// DecodeFailure reports a log whose data could not be decoded.
func DecodeFailure(op, message string) *Error {
	return New(KindDecodeFailure, op, message)
}

// StoreFailure wraps a persistence failure.
func StoreFailure(op string, cause error) *Error {
	return Wrap(KindStoreFailure, op, cause)
}

// FatalConfig reports an unrecoverable configuration error.
func FatalConfig(op, message string) *Error {
	return New(KindFatalConfig, op, message)
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error. The zero value is returned otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether the policy for err's kind calls for a retry
// at the caller's level (as opposed to a permanent latch or fatal exit).
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind == KindTransientRpc || kind == KindStoreFailure
}
