package model

import "fmt"

// EventRecord is the normalized representation of one contract event log.
// Identity is (ChainID, TxHash, LogIndex); records are append-only.
type EventRecord struct {
	Address     string            `json:"address"`
	ChainID     uint64            `json:"chain_id"`
	BlockNumber uint64            `json:"block_number"`
	BlockHash   string            `json:"block_hash"`
	TxHash      string            `json:"tx_hash"`
	TxIndex     uint64            `json:"tx_index"`
	LogIndex    uint64            `json:"log_index"`
	Topics      []string          `json:"topics"`
	Data        string            `json:"data"`
	EventName   string            `json:"event_name,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// Key returns the identity key used for deduplication.
func (e EventRecord) Key() string {
	return fmt.Sprintf("%d:%s:%d", e.ChainID, e.TxHash, e.LogIndex)
}

// Less orders records by (block number, log index).
func (e EventRecord) Less(other EventRecord) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}
