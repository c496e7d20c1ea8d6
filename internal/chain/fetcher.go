package chain

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"daoharvest/internal/fault"
	"daoharvest/internal/httpx"
	"daoharvest/internal/model"
)

// BlockRange is an inclusive block range; the next range starts at To+1.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts [from, to] into consecutive ranges of at most batchSize
// blocks.
func SplitRange(from, to, batchSize uint64) []BlockRange {
	if batchSize == 0 {
		batchSize = 1
	}
	var ranges []BlockRange
	for start := from; start <= to; {
		end := to
		if to-start+1 > batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges
}

// LogSource is the raw upstream surface the fetcher drives.
type LogSource interface {
	ChainHead(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]types.Log, error)
}

// FetcherConfig tunes range splitting and retries.
type FetcherConfig struct {
	// BatchSize is the maximum block span per upstream call.
	BatchSize uint64

	// Backoff is the retry policy for transient RPC-level failures.
	Backoff httpx.Backoff

	// ProgressInterval spaces progress log lines during long scans.
	ProgressInterval time.Duration
}

// Fetcher collects a contract's historical events over a block range,
// splitting oversized requests and bisecting on upstream range-cap errors.
type Fetcher struct {
	source LogSource
	cfg    FetcherConfig
	logger *zap.Logger
}

// NewFetcher builds an event fetcher over source.
func NewFetcher(source LogSource, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = httpx.DefaultBackoff()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 30 * time.Second
	}
	return &Fetcher{source: source, cfg: cfg, logger: logger}
}

// ChainHead returns the current head block.
func (f *Fetcher) ChainHead(ctx context.Context) (uint64, error) {
	var head uint64
	err := httpx.Retry(ctx, f.cfg.Backoff, retryableRPC, func(ctx context.Context) error {
		var err error
		head, err = f.source.ChainHead(ctx)
		return err
	})
	if err != nil {
		return 0, wrapRPC("block_number", err)
	}
	return head, nil
}

// FetchEvents scans [fromBlock, toBlock] for address, invoking fn once per
// sub-range with that sub-range's records in ascending (block, log index)
// order. fn runs for empty sub-ranges too, so the caller can advance its
// cursor at sub-range granularity; an error from fn stops the scan.
func (f *Fetcher) FetchEvents(
	ctx context.Context,
	address string,
	chainID uint64,
	dec *Decoder,
	fromBlock, toBlock uint64,
	fn func(sub BlockRange, records []model.EventRecord) error,
) error {
	if !common.IsHexAddress(address) {
		return fault.Newf(fault.KindPermanent, provider, "get_logs", "invalid address %q", address)
	}
	addr := common.HexToAddress(address)
	canonical := strings.ToLower(addr.Hex())
	if dec == nil {
		dec = NewDecoder(nil)
	}

	ranges := SplitRange(fromBlock, toBlock, f.cfg.BatchSize)
	lastProgress := time.Now()

	for i, sub := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logs, err := f.fetchBisect(ctx, addr, sub)
		if err != nil {
			return err
		}

		records := make([]model.EventRecord, 0, len(logs))
		seen := make(map[string]struct{}, len(logs))
		for _, log := range logs {
			name, params := dec.Decode(log)
			rec := buildEventRecord(chainID, canonical, log, name, params)
			if _, dup := seen[rec.Key()]; dup {
				continue
			}
			seen[rec.Key()] = struct{}{}
			records = append(records, rec)
		}
		sort.Slice(records, func(a, b int) bool { return records[a].Less(records[b]) })

		if err := fn(sub, records); err != nil {
			return err
		}

		if time.Since(lastProgress) >= f.cfg.ProgressInterval {
			done := float64(i+1) / float64(len(ranges)) * 100
			f.logger.Info("scan progress",
				zap.String("address", canonical),
				zap.Float64("percent", done),
				zap.Uint64("through_block", sub.To),
			)
			lastProgress = time.Now()
		}
	}

	return nil
}

// fetchBisect fetches one range, halving it recursively when the upstream
// rejects it as too large. A single block that still overflows is permanent.
func (f *Fetcher) fetchBisect(ctx context.Context, addr common.Address, r BlockRange) ([]types.Log, error) {
	var logs []types.Log
	err := httpx.Retry(ctx, f.cfg.Backoff, retryableRPC, func(ctx context.Context) error {
		var err error
		logs, err = f.source.FilterLogs(ctx, addr, r.From, r.To)
		if err != nil {
			f.logger.Warn("filter logs failed",
				zap.String("address", addr.Hex()),
				zap.Uint64("from", r.From),
				zap.Uint64("to", r.To),
				zap.Error(err),
			)
		}
		return err
	})
	if err == nil {
		return logs, nil
	}

	wrapped := wrapRPC("get_logs", err)
	if fault.KindOf(wrapped) != fault.KindRangeTooLarge {
		return nil, wrapped
	}
	if r.From >= r.To {
		return nil, fault.Newf(fault.KindPermanent, provider, "get_logs",
			"single block %d still exceeds the provider range cap", r.From)
	}

	mid := r.From + (r.To-r.From)/2
	f.logger.Debug("bisecting range",
		zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Uint64("mid", mid))

	left, err := f.fetchBisect(ctx, addr, BlockRange{From: r.From, To: mid})
	if err != nil {
		return nil, err
	}
	right, err := f.fetchBisect(ctx, addr, BlockRange{From: mid + 1, To: r.To})
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}
