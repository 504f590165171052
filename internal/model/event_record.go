package model

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"lendingScope/internal/felt"
)

// EventRecord is an immutable history entry. (TxHash, EventType, SubjectID)
// is unique.
type EventRecord struct {
	EventType   EventKind       `json:"event_type"`
	SubjectID   string          `json:"subject_id"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	BlockHash   string          `json:"block_hash"`
	LogIndex    uint32          `json:"log_index"`
	Timestamp   uint64          `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// RecordKey is the idempotency key of an event record.
type RecordKey struct {
	TxHash    string
	EventType EventKind
	SubjectID string
}

// Key returns the record's idempotency key.
func (r EventRecord) Key() RecordKey {
	return RecordKey{TxHash: r.TxHash, EventType: r.EventType, SubjectID: r.SubjectID}
}

// SignedPayload is the payload of a signed record.
type SignedPayload struct {
	Lender               string `json:"lender"`
	IssuedDebtPercentage string `json:"issued_debt_percentage"`
}

// RepaidPayload is the payload of a repaid record.
type RepaidPayload struct {
	Repayer string `json:"repayer"`
}

// RedeemedPayload is the payload of a redeemed record.
type RedeemedPayload struct {
	Redeemer string `json:"redeemer"`
	Shares   string `json:"shares"`
}

// RecordOf builds the history record of a protocol event. It reports false
// for events that are not recorded.
func RecordOf(ev Event) (EventRecord, bool, error) {
	var (
		id      uint256.Int
		payload any = struct{}{}
	)
	switch e := ev.(type) {
	case Signed:
		id = e.ID
		payload = SignedPayload{Lender: e.Lender, IssuedDebtPercentage: e.IssuedDebtPercentage.Dec()}
	case Cancelled:
		id = e.ID
	case Liquidated:
		id = e.ID
	case Repaid:
		id = e.ID
		payload = RepaidPayload{Repayer: e.Repayer}
	case Redeemed:
		id = e.ID
		payload = RedeemedPayload{Redeemer: e.Redeemer, Shares: e.Shares.Dec()}
	default:
		return EventRecord{}, false, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return EventRecord{}, false, fmt.Errorf("marshal %s payload: %w", ev.Kind(), err)
	}
	pos := ev.At()
	return EventRecord{
		EventType:   ev.Kind(),
		SubjectID:   felt.Hex(id),
		TxHash:      pos.TxHash,
		BlockNumber: pos.BlockNumber,
		BlockHash:   pos.BlockHash,
		LogIndex:    pos.LogIndex,
		Timestamp:   pos.Timestamp,
		Payload:     raw,
	}, true, nil
}
