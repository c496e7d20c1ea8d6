package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"

	"daoharvest/internal/fault"
)

// codedError mimics a provider's JSON-RPC error object.
type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

func TestClassifyRPC(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"range results", errors.New("query returned more than 10000 results"), fault.KindRangeTooLarge},
		{"range size", errors.New("Log response size exceeded"), fault.KindRangeTooLarge},
		{"range span", errors.New("eth_getLogs block range is too large"), fault.KindRangeTooLarge},
		{"range code -32005", codedError{code: -32005, msg: "limit exceeded"}, fault.KindRangeTooLarge},
		{"range code -32602", codedError{code: -32602, msg: "bad params"}, fault.KindRangeTooLarge},
		{"other code keeps heuristics", codedError{code: -32000, msg: "rate limit hit"}, fault.KindTransient},
		{"canceled", fmt.Errorf("get logs: %w", context.Canceled), fault.KindCanceled},
		{"http 429", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, fault.KindTransient},
		{"http 503", rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, fault.KindTransient},
		{"http 400", rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, fault.KindPermanent},
		{"network", errors.New("dial tcp: i/o timeout"), fault.KindTransient},
		{"classified passthrough", fault.New(fault.KindPermanent, provider, "get_logs", nil), fault.KindPermanent},
		{"wrapped classified", fmt.Errorf("outer: %w", fault.New(fault.KindRateLimited, provider, "enqueue", nil)), fault.KindRateLimited},
	}

	for _, tc := range cases {
		if got := classifyRPC(tc.err); got != tc.want {
			t.Fatalf("%s: kind mismatch: %v != %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryableRPC(t *testing.T) {
	if !retryableRPC(errors.New("i/o timeout")) {
		t.Fatalf("raw network errors should be retryable")
	}
	if retryableRPC(fault.New(fault.KindTransient, provider, "request", nil)) {
		t.Fatalf("transport faults already consumed their retry budget")
	}
	if retryableRPC(errors.New("query returned more than 10000 results")) {
		t.Fatalf("range-too-large must go to bisection, not retry")
	}
}

func TestEndpointURL(t *testing.T) {
	url, err := EndpointURL("mainnet", "key123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://eth-mainnet.g.alchemy.com/v2/key123" {
		t.Fatalf("url mismatch: %s", url)
	}

	if _, err := EndpointURL("mainnet", ""); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := EndpointURL("ropsten", "key"); err == nil {
		t.Fatalf("expected error for unsupported network")
	}
}
