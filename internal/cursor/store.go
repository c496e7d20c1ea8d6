// Package cursor tracks per-contract collection progress so repeated runs
// skip work that already completed.
package cursor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"daoharvest/internal/fault"
)

// Cursor is the incremental-progress marker for one contract.
// LastProcessedBlock is nil until the first event sub-range lands.
type Cursor struct {
	Address            string  `json:"address"`
	ChainID            uint64  `json:"chain_id"`
	LastProcessedBlock *uint64 `json:"last_processed_block"`
	AbiFetched         bool    `json:"abi_fetched"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

// NextFromBlock returns where the next event scan should start, given the
// contract's deployment block.
func (c Cursor) NextFromBlock(deployedAt uint64) uint64 {
	if c.LastProcessedBlock == nil {
		return deployedAt
	}
	next := *c.LastProcessedBlock + 1
	if next < deployedAt {
		return deployedAt
	}
	return next
}

// Store persists cursors for all contracts in one JSON document, written
// atomically so a crash never leaves a partial cursor on disk.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore builds a file-backed store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func key(address string, chainID uint64) string {
	return fmt.Sprintf("%d:%s", chainID, address)
}

// Load returns the cursor for a contract, or a zero-value cursor when none
// has been saved yet.
func (s *Store) Load(address string, chainID uint64) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return Cursor{}, err
	}
	if cur, ok := all[key(address, chainID)]; ok {
		return cur, nil
	}
	return Cursor{Address: address, ChainID: chainID}, nil
}

// Save writes the cursor durably. The caller must have persisted the
// corresponding data first; a cursor must never run ahead of its records.
func (s *Store) Save(cur Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	cur.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	all[key(cur.Address, cur.ChainID)] = cur

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fault.New(fault.KindIO, "cursor", "marshal", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fault.New(fault.KindIO, "cursor", "mkdir", err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fault.New(fault.KindIO, "cursor", "write_tmp", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fault.New(fault.KindIO, "cursor", "rename", err)
	}
	return nil
}

func (s *Store) readAll() (map[string]Cursor, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Cursor), nil
		}
		return nil, fault.New(fault.KindIO, "cursor", "read", err)
	}

	all := make(map[string]Cursor)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fault.New(fault.KindIO, "cursor", "parse", err)
	}
	return all, nil
}
