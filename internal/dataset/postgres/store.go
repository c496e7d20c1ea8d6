// Package postgres mirrors collected records into Postgres for downstream
// querying. Inserts are idempotent on the event identity key, so replaying
// an overlapping range is safe.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"daoharvest/internal/model"
)

// Store provides Postgres persistence for ABI and event records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects a pooled store. The expected schema:
//
//	CREATE TABLE contract_abis (
//	    chain_id BIGINT NOT NULL,
//	    address TEXT NOT NULL,
//	    entries JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (chain_id, address)
//	);
//
//	CREATE TABLE contract_events (
//	    chain_id BIGINT NOT NULL,
//	    tx_hash TEXT NOT NULL,
//	    log_index BIGINT NOT NULL,
//	    address TEXT NOT NULL,
//	    block_number BIGINT NOT NULL,
//	    tx_index BIGINT NOT NULL,
//	    event_name TEXT NOT NULL DEFAULT '',
//	    topics TEXT[] NOT NULL,
//	    data TEXT NOT NULL,
//	    params JSONB,
//	    PRIMARY KEY (chain_id, tx_hash, log_index)
//	);
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertAbi overwrites the stored ABI for a contract.
func (s *Store) UpsertAbi(ctx context.Context, rec model.AbiRecord) error {
	entries, err := json.Marshal(rec.Entries)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO contract_abis (chain_id, address, entries, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id, address)
		DO UPDATE SET entries = EXCLUDED.entries, updated_at = now()
	`,
		int64(rec.ChainID),
		rec.Address,
		entries,
	)
	return err
}

// InsertEvents writes a batch of event records, skipping any already stored.
func (s *Store) InsertEvents(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		var params []byte
		if len(rec.Params) > 0 {
			encoded, err := json.Marshal(rec.Params)
			if err != nil {
				return err
			}
			params = encoded
		}
		batch.Queue(`
			INSERT INTO contract_events (
				chain_id, tx_hash, log_index, address, block_number, tx_index, event_name, topics, data, params
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(rec.ChainID),
			rec.TxHash,
			int64(rec.LogIndex),
			rec.Address,
			int64(rec.BlockNumber),
			int64(rec.TxIndex),
			rec.EventName,
			rec.Topics,
			rec.Data,
			params,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
