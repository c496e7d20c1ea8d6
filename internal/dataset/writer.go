// Package dataset persists collected ABI and event records under
// <dataDir>/<DAO>/<Contract>/ in JSON and CSV form. Both representations
// are derived from the same in-memory slice and every artifact is written
// atomically, so a crash mid-write leaves the previous good file intact.
package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"daoharvest/internal/fault"
	"daoharvest/internal/model"
)

// ContractKey addresses one contract's artifact directory.
type ContractKey struct {
	DAO      string
	Contract string
}

// FileWriter is the filesystem dataset writer.
type FileWriter struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileWriter builds a writer rooted at baseDir.
func NewFileWriter(baseDir string) *FileWriter {
	return &FileWriter{baseDir: baseDir}
}

func (w *FileWriter) contractDir(key ContractKey) (string, error) {
	dir := filepath.Join(w.baseDir, key.DAO, key.Contract)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fault.New(fault.KindIO, "dataset", "mkdir", err)
	}
	return dir, nil
}

// WriteAbi overwrites the contract's ABI artifacts wholesale.
func (w *FileWriter) WriteAbi(key ContractKey, rec model.AbiRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir, err := w.contractDir(key)
	if err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fault.New(fault.KindIO, "dataset", "marshal_abi", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "abi.json"), jsonData); err != nil {
		return err
	}

	csvData, err := abiCSV(rec)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "abi.csv"), csvData)
}

// LoadAbi reads a previously written ABI artifact back, or nil when the
// contract has none on disk.
func (w *FileWriter) LoadAbi(key ContractKey) (*model.AbiRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(w.baseDir, key.DAO, key.Contract, "abi.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.New(fault.KindIO, "dataset", "read_abi", err)
	}
	var rec model.AbiRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fault.New(fault.KindIO, "dataset", "parse_abi", err)
	}
	return &rec, nil
}

// AppendEvents merges records into the contract's event artifacts. Records
// already present are dropped by identity key and the merged set is kept in
// ascending (block number, log index) order, so overlapping ranges are
// idempotent.
func (w *FileWriter) AppendEvents(key ContractKey, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dir, err := w.contractDir(key)
	if err != nil {
		return err
	}
	jsonPath := filepath.Join(dir, "events.json")

	existing, err := readEvents(jsonPath)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec.Key()] = struct{}{}
	}
	merged := existing
	for _, rec := range records {
		if _, dup := seen[rec.Key()]; dup {
			continue
		}
		seen[rec.Key()] = struct{}{}
		merged = append(merged, rec)
	}
	sort.Slice(merged, func(a, b int) bool { return merged[a].Less(merged[b]) })

	jsonData, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fault.New(fault.KindIO, "dataset", "marshal_events", err)
	}
	if err := writeFileAtomic(jsonPath, jsonData); err != nil {
		return err
	}

	csvData, err := eventsCSV(merged)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "events.csv"), csvData)
}

func readEvents(path string) ([]model.EventRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.New(fault.KindIO, "dataset", "read_events", err)
	}
	var records []model.EventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fault.New(fault.KindIO, "dataset", "parse_events", err)
	}
	return records, nil
}

func abiCSV(rec model.AbiRecord) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	header := []string{"type", "name", "signature", "state_mutability", "anonymous", "inputs", "outputs"}
	if err := cw.Write(header); err != nil {
		return nil, fault.New(fault.KindIO, "dataset", "csv_abi", err)
	}
	for _, entry := range rec.Entries {
		row := []string{
			entry.Type,
			entry.Name,
			entry.Signature,
			entry.StateMutability,
			strconv.FormatBool(entry.Anonymous),
			joinParams(entry.Inputs),
			joinParams(entry.Outputs),
		}
		if err := cw.Write(row); err != nil {
			return nil, fault.New(fault.KindIO, "dataset", "csv_abi", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fault.New(fault.KindIO, "dataset", "csv_abi", err)
	}
	return buf.Bytes(), nil
}

func joinParams(params []model.AbiParam) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		part := p.Type
		if p.Name != "" {
			part = p.Name + " " + part
		}
		if p.Indexed {
			part += " indexed"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}

func eventsCSV(records []model.EventRecord) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	header := []string{"chain_id", "block_number", "tx_hash", "tx_index", "log_index", "address", "event_name", "topics", "data", "params"}
	if err := cw.Write(header); err != nil {
		return nil, fault.New(fault.KindIO, "dataset", "csv_events", err)
	}
	for _, rec := range records {
		params := ""
		if len(rec.Params) > 0 {
			encoded, err := json.Marshal(rec.Params)
			if err != nil {
				return nil, fault.New(fault.KindIO, "dataset", "csv_events", err)
			}
			params = string(encoded)
		}
		row := []string{
			strconv.FormatUint(rec.ChainID, 10),
			strconv.FormatUint(rec.BlockNumber, 10),
			rec.TxHash,
			strconv.FormatUint(rec.TxIndex, 10),
			strconv.FormatUint(rec.LogIndex, 10),
			rec.Address,
			rec.EventName,
			strings.Join(rec.Topics, "|"),
			rec.Data,
			params,
		}
		if err := cw.Write(row); err != nil {
			return nil, fault.New(fault.KindIO, "dataset", "csv_events", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fault.New(fault.KindIO, "dataset", "csv_events", err)
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.tmp", path)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fault.New(fault.KindIO, "dataset", "write_tmp", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fault.New(fault.KindIO, "dataset", "rename", err)
	}
	return nil
}
