// Package collect orchestrates the collection pipeline: it walks configured
// DAOs, drives the ABI and event adapters under the per-contract cursor,
// and persists results through the dataset writer. One contract's failure
// never aborts the batch.
package collect

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"daoharvest/internal/chain"
	"daoharvest/internal/cursor"
	"daoharvest/internal/dataset"
	"daoharvest/internal/fault"
	"daoharvest/internal/model"
)

// AbiProvider fetches and normalizes a contract's ABI.
type AbiProvider interface {
	ContractABI(ctx context.Context, address string, chainID uint64) (model.AbiRecord, error)
}

// EventProvider fetches historical events over a block range, reporting
// results per sub-range.
type EventProvider interface {
	ChainHead(ctx context.Context) (uint64, error)
	FetchEvents(ctx context.Context, address string, chainID uint64, dec *chain.Decoder, fromBlock, toBlock uint64,
		fn func(sub chain.BlockRange, records []model.EventRecord) error) error
}

// Writer persists collected artifacts.
type Writer interface {
	WriteAbi(key dataset.ContractKey, rec model.AbiRecord) error
	LoadAbi(key dataset.ContractKey) (*model.AbiRecord, error)
	AppendEvents(key dataset.ContractKey, records []model.EventRecord) error
}

// CursorStore persists per-contract progress.
type CursorStore interface {
	Load(address string, chainID uint64) (cursor.Cursor, error)
	Save(cur cursor.Cursor) error
}

// EventSink is an optional secondary destination, Postgres in practice.
type EventSink interface {
	UpsertAbi(ctx context.Context, rec model.AbiRecord) error
	InsertEvents(ctx context.Context, records []model.EventRecord) error
}

// RunConfig tunes the orchestrator.
type RunConfig struct {
	// Workers bounds how many contracts are processed concurrently.
	// The shared HTTP clients still enforce the global rate caps.
	Workers int
}

// Runner drives one collection run.
type Runner struct {
	cfg     RunConfig
	abi     AbiProvider
	events  EventProvider
	cursors CursorStore
	writer  Writer
	sink    EventSink
	logger  *zap.Logger
}

// NewRunner wires the orchestrator. sink may be nil.
func NewRunner(cfg RunConfig, abi AbiProvider, events EventProvider, cursors CursorStore, writer Writer, sink EventSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Runner{
		cfg:     cfg,
		abi:     abi,
		events:  events,
		cursors: cursors,
		writer:  writer,
		sink:    sink,
		logger:  logger,
	}
}

type task struct {
	dao      model.DAO
	contract model.Contract
}

// Run processes every contract of every DAO and returns the per-contract
// outcome summary. Contracts are independent; ordering across them is
// unspecified.
func (r *Runner) Run(ctx context.Context, daos []model.DAO) Summary {
	tasks := make(chan task)
	var mu sync.Mutex
	var summary Summary
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				report := r.processContract(ctx, t.dao, t.contract)
				mu.Lock()
				summary.Reports = append(summary.Reports, report)
				mu.Unlock()
			}
		}()
	}

	for _, dao := range daos {
		r.logger.Info("processing dao", zap.String("dao", dao.Name), zap.Int("contracts", len(dao.Contracts)))
		for _, contract := range dao.Contracts {
			select {
			case tasks <- task{dao: dao, contract: contract}:
			case <-ctx.Done():
			}
		}
	}
	close(tasks)
	wg.Wait()

	r.logger.Info("run complete",
		zap.Int("succeeded", summary.Succeeded()),
		zap.Int("failed", summary.Failed()),
	)
	return summary
}

func (r *Runner) processContract(ctx context.Context, dao model.DAO, c model.Contract) Report {
	report := Report{DAO: dao.Name, Contract: c.Name, Address: c.Address, Status: StatusComplete}
	key := dataset.ContractKey{DAO: dao.Name, Contract: c.Name}
	log := r.logger.With(
		zap.String("dao", dao.Name),
		zap.String("contract", c.Name),
		zap.String("address", c.Address),
	)

	cur, err := r.cursors.Load(c.Address, dao.ChainID)
	if err != nil {
		return report.fail(StageCursor, err)
	}

	abiRec, report, ok := r.ensureABI(ctx, key, c, dao.ChainID, &cur, report, log)
	if !ok {
		return report
	}

	if err := r.collectEvents(ctx, key, c, dao.ChainID, &cur, abiRec, &report, log); err != nil {
		return report.fail(StageEvents, err)
	}

	log.Info("contract complete",
		zap.Int("new_events", report.EventsCollected),
		zap.Bool("no_abi", report.NoABI),
	)
	return report
}

// ensureABI runs the ABI stage. It returns the ABI for event decoding when
// one is available, the updated report, and whether processing continues.
func (r *Runner) ensureABI(ctx context.Context, key dataset.ContractKey, c model.Contract, chainID uint64, cur *cursor.Cursor, report Report, log *zap.Logger) (*model.AbiRecord, Report, bool) {
	if cur.AbiFetched {
		// Already collected in an earlier run; reload for decoding only.
		rec, err := r.writer.LoadAbi(key)
		if err != nil {
			log.Warn("stored abi unreadable, events will stay undecoded", zap.Error(err))
		}
		return rec, report, true
	}

	rec, err := r.abi.ContractABI(ctx, c.Address, chainID)
	switch {
	case err == nil:
		if err := r.writer.WriteAbi(key, rec); err != nil {
			return nil, report.fail(StageABI, err), false
		}
		if r.sink != nil {
			if err := r.sink.UpsertAbi(ctx, rec); err != nil {
				return nil, report.fail(StageABI, err), false
			}
		}
		// Data is durable; only now may the cursor claim the ABI stage.
		cur.AbiFetched = true
		if err := r.cursors.Save(*cur); err != nil {
			return nil, report.fail(StageABI, err), false
		}
		log.Info("abi collected", zap.Int("entries", len(rec.Entries)))
		return &rec, report, true

	case fault.KindOf(err) == fault.KindNotVerified:
		log.Info("contract not verified, collecting events without abi")
		report.NoABI = true
		return nil, report, true

	default:
		return nil, report.fail(StageABI, err), false
	}
}

func (r *Runner) collectEvents(ctx context.Context, key dataset.ContractKey, c model.Contract, chainID uint64, cur *cursor.Cursor, abiRec *model.AbiRecord, report *Report, log *zap.Logger) error {
	head, err := r.events.ChainHead(ctx)
	if err != nil {
		return err
	}

	from := cur.NextFromBlock(c.DeployedAt)
	if from > head {
		log.Debug("nothing to sync", zap.Uint64("from", from), zap.Uint64("head", head))
		return nil
	}

	log.Info("collecting events", zap.Uint64("from", from), zap.Uint64("to", head))

	dec := chain.NewDecoder(abiRec)
	return r.events.FetchEvents(ctx, c.Address, chainID, dec, from, head,
		func(sub chain.BlockRange, records []model.EventRecord) error {
			if err := r.writer.AppendEvents(key, records); err != nil {
				return err
			}
			if r.sink != nil {
				if err := r.sink.InsertEvents(ctx, records); err != nil {
					return err
				}
			}
			// Records are durable; the cursor may now advance to this
			// sub-range's end. A crash in between re-fetches at most one
			// sub-range, which the writer deduplicates.
			end := sub.To
			cur.LastProcessedBlock = &end
			if err := r.cursors.Save(*cur); err != nil {
				return err
			}
			report.EventsCollected += len(records)
			return nil
		})
}

func (rep Report) fail(stage Stage, err error) Report {
	rep.Status = StatusFailed
	rep.Stage = stage
	rep.ErrKind = fault.KindOf(err)
	rep.Err = err
	return rep
}
