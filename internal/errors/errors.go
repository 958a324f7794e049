// Package errors defines the error kinds shared by the kernel and its modules.
//
// Every failure inside an operation scope is reported as one of the sentinel
// kinds below, usually wrapped in *Error to carry the failing operation and a
// human-readable detail. Callers match with errors.Is against the sentinel.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Kinds
// =============================================================================

var (
	ErrUnauthorized         = stderrors.New("unauthorized")
	ErrInvalidConfiguration = stderrors.New("invalid configuration")
	ErrInsufficientBalance  = stderrors.New("insufficient balance")
	ErrArrayLengthMismatch  = stderrors.New("array length mismatch")
	ErrAssetNotRegistered   = stderrors.New("asset not registered")
	ErrReentrancyDetected   = stderrors.New("reentrancy detected")
	ErrBatchTooLarge        = stderrors.New("batch too large")
	ErrEmptyBatch           = stderrors.New("empty batch")

	ErrOverflow            = stderrors.New("arithmetic overflow")
	ErrNoOperation         = stderrors.New("no operation in progress")
	ErrNotFound            = stderrors.New("not found")
	ErrModuleNotRegistered = stderrors.New("module not registered")
	ErrInvalidInput        = stderrors.New("invalid input")
)

// Error is a kind annotated with the operation that produced it.
type Error struct {
	Kind   error
	Op     string
	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the kind so errors.Is matches the sentinel.
func (e *Error) Unwrap() error {
	return e.Kind
}

// New creates an *Error of the given kind.
func New(kind error, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Newf creates an *Error with a formatted detail.
func Newf(kind error, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Constructors for the common kinds
// =============================================================================

// Unauthorized reports that caller may not perform op.
func Unauthorized(op, caller string) *Error {
	return Newf(ErrUnauthorized, op, "caller %s", caller)
}

// InsufficientBalance reports a debit larger than the available balance.
func InsufficientBalance(op string, available, requested fmt.Stringer) *Error {
	return Newf(ErrInsufficientBalance, op, "available %s, requested %s", available, requested)
}

// ArrayLengthMismatch reports batch arrays of unequal length.
func ArrayLengthMismatch(op string, a, b int) *Error {
	return Newf(ErrArrayLengthMismatch, op, "%d != %d", a, b)
}

// InvalidConfiguration reports a rejected configuration field.
func InvalidConfiguration(op, detail string) *Error {
	return New(ErrInvalidConfiguration, op, detail)
}

// Overflow reports a 256-bit arithmetic overflow.
func Overflow(op string) *Error {
	return New(ErrOverflow, op, "")
}

// =============================================================================
// Helpers
// =============================================================================

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Kind returns the sentinel kind of err, or nil when err carries none.
func Kind(err error) error {
	for _, k := range kinds {
		if stderrors.Is(err, k) {
			return k
		}
	}
	return nil
}

var kinds = []error{
	ErrUnauthorized,
	ErrInvalidConfiguration,
	ErrInsufficientBalance,
	ErrArrayLengthMismatch,
	ErrAssetNotRegistered,
	ErrReentrancyDetected,
	ErrBatchTooLarge,
	ErrEmptyBatch,
	ErrOverflow,
	ErrNoOperation,
	ErrNotFound,
	ErrModuleNotRegistered,
	ErrInvalidInput,
}

// KindName returns a short label for metrics and API responses.
func KindName(err error) string {
	switch Kind(err) {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalidConfiguration:
		return "invalid_configuration"
	case ErrInsufficientBalance:
		return "insufficient_balance"
	case ErrArrayLengthMismatch:
		return "array_length_mismatch"
	case ErrAssetNotRegistered:
		return "asset_not_registered"
	case ErrReentrancyDetected:
		return "reentrancy_detected"
	case ErrBatchTooLarge:
		return "batch_too_large"
	case ErrEmptyBatch:
		return "empty_batch"
	case ErrOverflow:
		return "overflow"
	case ErrNoOperation:
		return "no_operation"
	case ErrNotFound:
		return "not_found"
	case ErrModuleNotRegistered:
		return "module_not_registered"
	case ErrInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case nil:
		if err == nil {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	case ErrUnauthorized:
		return http.StatusForbidden
	case ErrNotFound, ErrAssetNotRegistered, ErrModuleNotRegistered:
		return http.StatusNotFound
	case ErrReentrancyDetected:
		return http.StatusConflict
	case ErrNoOperation, ErrOverflow:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
