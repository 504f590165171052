package model

// AgreementStatus is the funding lifecycle of an agreement.
type AgreementStatus string

const (
	AgreementSigned     AgreementStatus = "signed"
	AgreementPartial    AgreementStatus = "partial"
	AgreementFilled     AgreementStatus = "filled"
	AgreementCancelled  AgreementStatus = "cancelled"
	AgreementLiquidated AgreementStatus = "liquidated"
)

// Rank orders statuses; a transition may never lower it.
func (s AgreementStatus) Rank() int {
	switch s {
	case AgreementSigned, AgreementPartial:
		return 1
	case AgreementFilled:
		return 2
	case AgreementCancelled, AgreementLiquidated:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further transition is possible.
func (s AgreementStatus) Terminal() bool {
	return s.Rank() == 3
}

// Valid reports whether s is a known status.
func (s AgreementStatus) Valid() bool {
	return s.Rank() > 0
}

// Agreement is a credit line funded by signing events.
type Agreement struct {
	ID                   string          `json:"id"`
	Lender               string          `json:"lender"`
	Status               AgreementStatus `json:"status"`
	IssuedDebtPercentage string          `json:"issued_debt_percentage"`
	SignedAt             uint64          `json:"signed_at"`
	UpdatedAt            uint64          `json:"updated_at"`
	Terms
	LastBlock    uint64 `json:"last_block"`
	LastLogIndex uint32 `json:"last_log_index"`
}

// Terms are the structural fields read from the contract, not from events.
type Terms struct {
	Duration             uint64 `json:"duration"`
	Deadline             uint64 `json:"deadline"`
	MultiLender          bool   `json:"multi_lender"`
	DebtAssetCount       uint32 `json:"debt_asset_count"`
	InterestAssetCount   uint32 `json:"interest_asset_count"`
	CollateralAssetCount uint32 `json:"collateral_asset_count"`
}

// IsZero reports whether no terms have been recorded.
func (t Terms) IsZero() bool {
	return t == Terms{}
}

// Overdue reports whether a filled agreement's term ended before now.
func (a Agreement) Overdue(now uint64) bool {
	if a.Status != AgreementFilled || a.Duration == 0 || a.SignedAt == 0 {
		return false
	}
	return a.SignedAt+a.Duration < now
}

// DueAt is the second at which the agreement's term ends.
func (a Agreement) DueAt() uint64 {
	return a.SignedAt + a.Duration
}
