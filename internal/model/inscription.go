package model

// RepaymentStatus is the repayment axis of an inscription.
type RepaymentStatus string

const (
	RepaymentOpen       RepaymentStatus = "open"
	RepaymentRepaid     RepaymentStatus = "repaid"
	RepaymentLiquidated RepaymentStatus = "liquidated"
)

// InscriptionStatus is the displayed status of an inscription.
type InscriptionStatus string

const (
	InscriptionOpen       InscriptionStatus = "open"
	InscriptionRepaid     InscriptionStatus = "repaid"
	InscriptionRedeemed   InscriptionStatus = "redeemed"
	InscriptionLiquidated InscriptionStatus = "liquidated"
)

// Inscription is an asset-backed loan instance. Repayment and redemption are
// independent axes: an inscription can be repaid and later redeemed.
type Inscription struct {
	ID              string            `json:"id"`
	Status          InscriptionStatus `json:"status"`
	RepaymentStatus RepaymentStatus   `json:"repayment_status"`
	Redeemed        bool              `json:"redeemed"`
	RedeemedShares  string            `json:"redeemed_shares"`
	UpdatedAt       uint64            `json:"updated_at"`
	LastBlock       uint64            `json:"last_block"`
	LastLogIndex    uint32            `json:"last_log_index"`
}

// DisplayStatus derives Status from the two axes.
func (i Inscription) DisplayStatus() InscriptionStatus {
	if i.Redeemed {
		return InscriptionRedeemed
	}
	switch i.RepaymentStatus {
	case RepaymentRepaid:
		return InscriptionRepaid
	case RepaymentLiquidated:
		return InscriptionLiquidated
	default:
		return InscriptionOpen
	}
}
