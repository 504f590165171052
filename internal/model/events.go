package model

import (
	"github.com/holiman/uint256"
)

// MaxBPS denotes full funding in basis points.
const MaxBPS = 10000

// EventKind names a protocol event; it is also the event_type of its record.
type EventKind string

const (
	KindSigned       EventKind = "signed"
	KindCancelled    EventKind = "cancelled"
	KindLiquidated   EventKind = "liquidated"
	KindRepaid       EventKind = "repaid"
	KindRedeemed     EventKind = "redeemed"
	KindUnrecognized EventKind = "unrecognized"
)

// Position locates an event in the chain.
type Position struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	LogIndex    uint32 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
}

// At returns the position itself so embedding types satisfy Event.
func (p Position) At() Position { return p }

// Before reports whether p sorts strictly before (block, logIndex).
func (p Position) Before(block uint64, logIndex uint32) bool {
	if p.BlockNumber != block {
		return p.BlockNumber < block
	}
	return p.LogIndex < logIndex
}

// Event is the closed set of decoded protocol events. The concrete types are
// Signed, Cancelled, Liquidated, Repaid, Redeemed and Unrecognized.
type Event interface {
	Kind() EventKind
	At() Position
	sealed()
}

// Signed records a lender signing (part of) an agreement.
type Signed struct {
	Position
	ID                   uint256.Int
	Lender               string
	IssuedDebtPercentage uint256.Int
	// Terms is filled by the pipeline from an on-chain read when available.
	Terms *Terms
}

// Cancelled records an agreement cancellation.
type Cancelled struct {
	Position
	ID uint256.Int
}

// Liquidated records a liquidation settlement.
type Liquidated struct {
	Position
	ID uint256.Int
}

// Repaid records an inscription repayment.
type Repaid struct {
	Position
	ID      uint256.Int
	Repayer string
}

// Redeemed records a share redemption against an inscription.
type Redeemed struct {
	Position
	ID       uint256.Int
	Redeemer string
	Shares   uint256.Int
}

// Unrecognized carries a log whose selector is not one of the protocol events.
type Unrecognized struct {
	Position
	Selector string
}

func (Signed) Kind() EventKind       { return KindSigned }
func (Cancelled) Kind() EventKind    { return KindCancelled }
func (Liquidated) Kind() EventKind   { return KindLiquidated }
func (Repaid) Kind() EventKind       { return KindRepaid }
func (Redeemed) Kind() EventKind     { return KindRedeemed }
func (Unrecognized) Kind() EventKind { return KindUnrecognized }

func (Signed) sealed()       {}
func (Cancelled) sealed()    {}
func (Liquidated) sealed()   {}
func (Repaid) sealed()       {}
func (Redeemed) sealed()     {}
func (Unrecognized) sealed() {}

// SignedStatus derives the agreement status implied by a cumulative percentage.
func SignedStatus(pct uint256.Int) AgreementStatus {
	if pct.CmpUint64(MaxBPS) >= 0 {
		return AgreementFilled
	}
	return AgreementPartial
}
