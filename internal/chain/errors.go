package chain

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"daoharvest/internal/fault"
)

const provider = "alchemy"

// Range-cap rejections by JSON-RPC error code: -32005 is the limit-exceeded
// code, -32602 is what some providers return for an oversized getLogs span.
var rangeTooLargeCodes = map[int]bool{
	-32005: true,
	-32602: true,
}

// Providers phrase the range cap differently; match on the known signals.
var rangeTooLargeHints = []string{
	"response size exceeded",
	"query returned more than",
	"block range",
	"too many results",
	"range is too large",
}

// classifyRPC maps a raw RPC error to the failure taxonomy. Errors already
// classified by the transport keep their kind.
func classifyRPC(err error) fault.Kind {
	if err == nil {
		return fault.KindUnknown
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fault.KindCanceled
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return fault.KindTransient
		}
		return fault.KindPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range rangeTooLargeHints {
		if strings.Contains(msg, hint) {
			return fault.KindRangeTooLarge
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if rangeTooLargeCodes[rpcErr.ErrorCode()] {
			return fault.KindRangeTooLarge
		}
		if strings.Contains(msg, "rate limit") || strings.Contains(msg, "capacity") {
			return fault.KindTransient
		}
		if strings.Contains(msg, "invalid") || strings.Contains(msg, "unsupported") {
			return fault.KindPermanent
		}
	}

	// Network-level failures and anything unrecognized get the retry budget.
	return fault.KindTransient
}

// wrapRPC attaches classification and provider context to a raw RPC error.
func wrapRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.New(classifyRPC(err), provider, op, err)
}

// retryableRPC reports whether err deserves an application-level retry.
// Transport faults have already consumed the HTTP retry budget.
func retryableRPC(err error) bool {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return false
	}
	return classifyRPC(err) == fault.KindTransient
}
