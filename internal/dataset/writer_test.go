package dataset

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"daoharvest/internal/model"
)

var testKey = ContractKey{DAO: "Compound", Contract: "GovernorBravo"}

func testAbi() model.AbiRecord {
	return model.AbiRecord{
		Address: "0x1111111111111111111111111111111111111111",
		ChainID: 1,
		Entries: []model.AbiEntry{
			{Type: "function", Name: "propose", Signature: "propose(address[],uint256[])", StateMutability: "nonpayable",
				Inputs: []model.AbiParam{{Name: "targets", Type: "address[]"}, {Name: "values", Type: "uint256[]"}}},
			{Type: "event", Name: "ProposalCreated", Signature: "ProposalCreated(uint256)",
				Inputs: []model.AbiParam{{Name: "id", Type: "uint256"}}},
		},
	}
}

func event(block, logIndex uint64, tx string) model.EventRecord {
	return model.EventRecord{
		Address:     "0x1111111111111111111111111111111111111111",
		ChainID:     1,
		BlockNumber: block,
		TxHash:      tx,
		LogIndex:    logIndex,
		Topics:      []string{"0xaa"},
		Data:        "0x",
	}
}

func readJSONEvents(t *testing.T, dir string) []model.EventRecord {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "Compound", "GovernorBravo", "events.json"))
	if err != nil {
		t.Fatalf("read events.json: %v", err)
	}
	var records []model.EventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("parse events.json: %v", err)
	}
	return records
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

func TestWriteAbiProducesBothFormats(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir)

	if err := w.WriteAbi(testKey, testAbi()); err != nil {
		t.Fatalf("write abi: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Compound", "GovernorBravo", "abi.json"))
	if err != nil {
		t.Fatalf("read abi.json: %v", err)
	}
	var rec model.AbiRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("parse abi.json: %v", err)
	}
	if !reflect.DeepEqual(rec, testAbi()) {
		t.Fatalf("abi round-trip mismatch: %+v", rec)
	}

	rows := readCSV(t, filepath.Join(dir, "Compound", "GovernorBravo", "abi.csv"))
	if len(rows) != 3 { // header + 2 entries
		t.Fatalf("abi.csv row count mismatch: %d", len(rows))
	}
	if rows[1][1] != "propose" || rows[2][1] != "ProposalCreated" {
		t.Fatalf("abi.csv content mismatch: %+v", rows)
	}
}

func TestWriteAbiOverwritesWholesale(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir)

	if err := w.WriteAbi(testKey, testAbi()); err != nil {
		t.Fatalf("write abi: %v", err)
	}

	smaller := model.AbiRecord{
		Address: "0x1111111111111111111111111111111111111111",
		ChainID: 1,
		Entries: []model.AbiEntry{{Type: "function", Name: "execute", Signature: "execute()"}},
	}
	if err := w.WriteAbi(testKey, smaller); err != nil {
		t.Fatalf("rewrite abi: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, "Compound", "GovernorBravo", "abi.csv"))
	if len(rows) != 2 {
		t.Fatalf("old entries must not survive an overwrite: %+v", rows)
	}
}

func TestAppendEventsOrdersAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir)

	first := []model.EventRecord{event(105, 0, "0xa"), event(103, 2, "0xb")}
	if err := w.AppendEvents(testKey, first); err != nil {
		t.Fatalf("append: %v", err)
	}

	second := []model.EventRecord{event(103, 2, "0xb"), event(104, 1, "0xc"), event(110, 0, "0xd")}
	if err := w.AppendEvents(testKey, second); err != nil {
		t.Fatalf("append: %v", err)
	}

	records := readJSONEvents(t, dir)
	wantBlocks := []uint64{103, 104, 105, 110}
	if len(records) != len(wantBlocks) {
		t.Fatalf("record count mismatch: %d", len(records))
	}
	for i, want := range wantBlocks {
		if records[i].BlockNumber != want {
			t.Fatalf("order mismatch at %d: %d != %d", i, records[i].BlockNumber, want)
		}
	}

	rows := readCSV(t, filepath.Join(dir, "Compound", "GovernorBravo", "events.csv"))
	if len(rows) != len(records)+1 {
		t.Fatalf("csv row count diverges from json: %d != %d", len(rows)-1, len(records))
	}
}

func TestAppendEventsOverlapIsIdempotent(t *testing.T) {
	union := []model.EventRecord{event(100, 0, "0xa"), event(101, 0, "0xb"), event(102, 0, "0xc")}

	dirOnce := t.TempDir()
	once := NewFileWriter(dirOnce)
	if err := once.AppendEvents(testKey, union); err != nil {
		t.Fatalf("append union: %v", err)
	}

	dirTwice := t.TempDir()
	twice := NewFileWriter(dirTwice)
	if err := twice.AppendEvents(testKey, union[:2]); err != nil {
		t.Fatalf("append first half: %v", err)
	}
	if err := twice.AppendEvents(testKey, union[1:]); err != nil {
		t.Fatalf("append overlapping half: %v", err)
	}

	if !reflect.DeepEqual(readJSONEvents(t, dirOnce), readJSONEvents(t, dirTwice)) {
		t.Fatalf("overlapping appends diverge from single union append")
	}
}

func TestAppendEventsEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir)

	if err := w.AppendEvents(testKey, nil); err != nil {
		t.Fatalf("append empty: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Compound")); !os.IsNotExist(err) {
		t.Fatalf("empty append must not create artifacts")
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir)

	if err := w.WriteAbi(testKey, testAbi()); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	if err := w.AppendEvents(testKey, []model.EventRecord{event(1, 0, "0xa")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	contractDir := filepath.Join(dir, "Compound", "GovernorBravo")
	entries, err := os.ReadDir(contractDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 artifacts, got %v", entries)
	}
}
