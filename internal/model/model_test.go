package model

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedStatus(t *testing.T) {
	assert.Equal(t, AgreementPartial, SignedStatus(*uint256.NewInt(9999)))
	assert.Equal(t, AgreementFilled, SignedStatus(*uint256.NewInt(10000)))
	assert.Equal(t, AgreementFilled, SignedStatus(*uint256.NewInt(12000)))
}

func TestStatusRank(t *testing.T) {
	assert.Equal(t, AgreementSigned.Rank(), AgreementPartial.Rank())
	assert.Less(t, AgreementPartial.Rank(), AgreementFilled.Rank())
	assert.Less(t, AgreementFilled.Rank(), AgreementCancelled.Rank())
	assert.True(t, AgreementLiquidated.Terminal())
	assert.False(t, AgreementStatus("bogus").Valid())
}

func TestPositionBefore(t *testing.T) {
	p := Position{BlockNumber: 100, LogIndex: 3}
	assert.True(t, p.Before(105, 0))
	assert.True(t, p.Before(100, 4))
	assert.False(t, p.Before(100, 3))
	assert.False(t, p.Before(99, 9))
}

func TestDisplayStatus(t *testing.T) {
	i := Inscription{RepaymentStatus: RepaymentOpen}
	assert.Equal(t, InscriptionOpen, i.DisplayStatus())
	i.RepaymentStatus = RepaymentRepaid
	assert.Equal(t, InscriptionRepaid, i.DisplayStatus())
	i.Redeemed = true
	assert.Equal(t, InscriptionRedeemed, i.DisplayStatus())
}

func TestOverdue(t *testing.T) {
	a := Agreement{Status: AgreementFilled, SignedAt: 1000, Terms: Terms{Duration: 500}}
	assert.True(t, a.Overdue(1600))
	a.Duration = 700
	assert.False(t, a.Overdue(1600))
	a.Duration = 0
	assert.False(t, a.Overdue(1600))
}

func TestRecordOf(t *testing.T) {
	ev := Redeemed{
		Position: Position{TxHash: "0xt", BlockNumber: 9, LogIndex: 1, Timestamp: 77},
		ID:       *uint256.NewInt(0x2a),
		Redeemer: "0xr",
		Shares:   *uint256.NewInt(150),
	}
	rec, ok, err := RecordOf(ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindRedeemed, rec.EventType)
	assert.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000002a", rec.SubjectID)
	assert.Equal(t, uint64(77), rec.Timestamp)
	assert.JSONEq(t, `{"redeemer":"0xr","shares":"150"}`, string(rec.Payload))

	_, ok, err = RecordOf(Unrecognized{Selector: "0x1"})
	require.NoError(t, err)
	assert.False(t, ok)
}
