package model

import (
	"encoding/json"
)

// RawEvent is an emitted contract event as returned by the node, plus the
// position assigned to it within its block.
type RawEvent struct {
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TransactionHash string   `json:"transaction_hash"`
	// TxIndex and EventIndex are reported by newer nodes; nil when absent.
	TxIndex    *uint64 `json:"transaction_index,omitempty"`
	EventIndex *uint64 `json:"event_index,omitempty"`
	LogIndex   uint32  `json:"log_index"`
	Timestamp  uint64  `json:"timestamp,omitempty"`
}

// MarshalJSON ensures RawEvent is encoded with stable field names.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	type Alias RawEvent
	return json.Marshal(Alias(e))
}

// UnmarshalJSON decodes a RawEvent from JSON.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	type Alias RawEvent
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = RawEvent(a)
	return nil
}
