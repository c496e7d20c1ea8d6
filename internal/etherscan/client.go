// Package etherscan fetches and normalizes contract ABIs from the
// Etherscan code-metadata API.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"

	"daoharvest/internal/fault"
	"daoharvest/internal/httpx"
	"daoharvest/internal/model"
)

const provider = "etherscan"

var networkURLs = map[string]string{
	"mainnet": "https://api.etherscan.io/api",
	"goerli":  "https://api-goerli.etherscan.io/api",
	"sepolia": "https://api-sepolia.etherscan.io/api",
}

// errRateLimitBody marks a rate-limit signal delivered inside a 200 body,
// invisible to the transport-level retry policy.
var errRateLimitBody = errors.New("rate limit reached")

// Client is the ABI provider adapter. All requests go through the shared
// rate-limited HTTP client.
type Client struct {
	apiKey  string
	baseURL string
	http    *httpx.Client
	backoff httpx.Backoff
	logger  *zap.Logger
}

// NewClient builds an adapter for the given network.
func NewClient(apiKey, network string, hc *httpx.Client, backoff httpx.Backoff, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("etherscan api key is required")
	}
	baseURL, ok := networkURLs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff.MaxAttempts <= 0 {
		backoff = httpx.DefaultBackoff()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    hc,
		backoff: backoff,
		logger:  logger,
	}, nil
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// ContractABI fetches and normalizes the ABI for a contract. A contract
// without published source yields a NotVerified error; rate-limit messages
// in the response body are retried under the adapter's backoff policy.
func (c *Client) ContractABI(ctx context.Context, address string, chainID uint64) (model.AbiRecord, error) {
	var rec model.AbiRecord
	err := httpx.Retry(ctx, c.backoff,
		func(err error) bool { return errors.Is(err, errRateLimitBody) },
		func(ctx context.Context) error {
			var err error
			rec, err = c.fetchOnce(ctx, address, chainID)
			if err != nil {
				c.logger.Warn("abi fetch failed", zap.String("address", address), zap.Error(err))
			}
			return err
		})
	return rec, err
}

func (c *Client) fetchOnce(ctx context.Context, address string, chainID uint64) (model.AbiRecord, error) {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getabi")
	q.Set("address", address)
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return model.AbiRecord{}, fault.New(fault.KindPermanent, provider, "build_request", err)
	}
	req.Header.Set("User-Agent", "daoharvest/1.0")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return model.AbiRecord{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.AbiRecord{}, fault.Newf(fault.KindPermanent, provider, "get_abi", "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.AbiRecord{}, fault.New(fault.KindTransient, provider, "read_body", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.AbiRecord{}, fault.New(fault.KindDecode, provider, "decode_envelope", err)
	}

	if env.Status != "1" {
		switch {
		case strings.Contains(env.Result, "not verified"):
			return model.AbiRecord{}, fault.Newf(fault.KindNotVerified, provider, "get_abi", "contract %s is not verified", address)
		case strings.Contains(strings.ToLower(env.Result), "rate limit"):
			return model.AbiRecord{}, fault.New(fault.KindTransient, provider, "get_abi", errRateLimitBody)
		default:
			return model.AbiRecord{}, fault.Newf(fault.KindPermanent, provider, "get_abi", "%s: %s", env.Message, env.Result)
		}
	}

	rec, err := Normalize(env.Result, address, chainID)
	if err != nil {
		return model.AbiRecord{}, err
	}

	c.logger.Debug("abi fetched", zap.String("address", address), zap.Int("entries", len(rec.Entries)))
	return rec, nil
}

// Normalize decodes raw ABI JSON into the ordered descriptor sequence:
// functions first, then events, each sorted by name. Decode failure is
// permanent; it signals schema drift upstream, not a retryable condition.
func Normalize(raw, address string, chainID uint64) (model.AbiRecord, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return model.AbiRecord{}, fault.New(fault.KindPermanent, provider, "parse_abi", err)
	}

	rec := model.AbiRecord{
		Address: strings.ToLower(address),
		ChainID: chainID,
		Entries: make([]model.AbiEntry, 0, len(parsed.Methods)+len(parsed.Events)),
	}

	methodNames := make([]string, 0, len(parsed.Methods))
	for name := range parsed.Methods {
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		m := parsed.Methods[name]
		rec.Entries = append(rec.Entries, model.AbiEntry{
			Type:            "function",
			Name:            m.Name,
			Signature:       m.Sig,
			StateMutability: m.StateMutability,
			Inputs:          toParams(m.Inputs),
			Outputs:         toParams(m.Outputs),
		})
	}

	eventNames := make([]string, 0, len(parsed.Events))
	for name := range parsed.Events {
		eventNames = append(eventNames, name)
	}
	sort.Strings(eventNames)
	for _, name := range eventNames {
		e := parsed.Events[name]
		rec.Entries = append(rec.Entries, model.AbiEntry{
			Type:      "event",
			Name:      e.Name,
			Signature: e.Sig,
			Anonymous: e.Anonymous,
			Inputs:    toParams(e.Inputs),
		})
	}

	return rec, nil
}

func toParams(args abi.Arguments) []model.AbiParam {
	params := make([]model.AbiParam, 0, len(args))
	for _, arg := range args {
		params = append(params, model.AbiParam{
			Name:    arg.Name,
			Type:    arg.Type.String(),
			Indexed: arg.Indexed,
		})
	}
	return params
}
