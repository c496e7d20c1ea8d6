package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind int

const (
	// KindUnknown is the zero value for errors produced outside this package.
	KindUnknown Kind = iota

	// KindRateLimited means the local request queue is saturated; the caller
	// may retry after backing off.
	KindRateLimited

	// KindTransient covers network timeouts, 5xx responses, and upstream 429s.
	// Retried automatically up to the configured budget.
	KindTransient

	// KindPermanent covers malformed requests and non-429 4xx responses.
	// Never retried.
	KindPermanent

	// KindNotVerified means the contract has no published source or ABI.
	// An expected outcome, not an error to retry.
	KindNotVerified

	// KindRangeTooLarge means the upstream rejected a block range as too wide.
	// Handled internally by bisection.
	KindRangeTooLarge

	// KindDecode means an upstream payload could not be decoded.
	KindDecode

	// KindIO means a local persistence write or read failed.
	KindIO

	// KindCanceled means the run's context was canceled or timed out.
	// Distinguished from unclassified failures in reports and logs.
	KindCanceled
)

// String returns the lowercase name of the kind for logs and reports.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindNotVerified:
		return "not_verified"
	case KindRangeTooLarge:
		return "range_too_large"
	case KindDecode:
		return "decode"
	case KindIO:
		return "io"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified failure from a provider or the persistence layer.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error wrapping cause. Cause may be nil.
func New(kind Kind, provider, op string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: cause}
}

// Newf builds a classified error from a formatted message.
func Newf(kind Kind, provider, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err, unwrapping as needed.
// Context cancellation classifies as KindCanceled even when unwrapped;
// other unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// IsRetryable reports whether a rerun of the failed operation could
// plausibly succeed. Covers upstream transients and local queue saturation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}
