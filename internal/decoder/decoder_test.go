package decoder

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingScope/internal/felt"
	"lendingScope/internal/model"
)

func sel(name string) string {
	return felt.Hex(felt.Selector(name))
}

func rawEvent(keys, data []string) model.RawEvent {
	return model.RawEvent{
		Keys:            keys,
		Data:            data,
		BlockNumber:     7,
		BlockHash:       "0xb1",
		TransactionHash: "0x0aa",
		LogIndex:        3,
	}
}

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := New(nil)
	require.NoError(t, err)
	return d
}

func TestDecodeSigned(t *testing.T) {
	d := newDecoder(t)
	ev, err := d.Decode(rawEvent(
		[]string{sel(NameSigned)},
		[]string{"0x1", "0x0", "0xA", "0x1b58", "0x0"},
	))
	require.NoError(t, err)

	signed, ok := ev.(model.Signed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, uint64(1), signed.ID.Uint64())
	assert.Equal(t, felt.Hex(*uintFrom(10)), signed.Lender)
	assert.Equal(t, uint64(7000), signed.IssuedDebtPercentage.Uint64())
	assert.Equal(t, uint64(7), signed.At().BlockNumber)
	assert.Equal(t, uint32(3), signed.At().LogIndex)
	assert.Equal(t, felt.Hex(*uintFrom(0xaa)), signed.At().TxHash)
}

func TestDecodeIDConventions(t *testing.T) {
	d := newDecoder(t)

	// Repaid carries the id in keys, the high half shifted by 2^128.
	ev, err := d.Decode(rawEvent(
		[]string{sel(NameRepaid), "0x5", "0x1"},
		[]string{"0xbeef"},
	))
	require.NoError(t, err)
	repaid := ev.(model.Repaid)
	lo, hi := felt.Split(repaid.ID)
	assert.Equal(t, uint64(5), lo.Uint64())
	assert.Equal(t, uint64(1), hi.Uint64())

	ev, err = d.Decode(rawEvent(
		[]string{sel(NameRedeemed), "0x9", "0x0", "0xcafe"},
		[]string{"0x64", "0x0"},
	))
	require.NoError(t, err)
	redeemed := ev.(model.Redeemed)
	assert.Equal(t, uint64(9), redeemed.ID.Uint64())
	assert.Equal(t, uint64(100), redeemed.Shares.Uint64())
	assert.Equal(t, felt.Hex(*uintFrom(0xcafe)), redeemed.Redeemer)

	ev, err = d.Decode(rawEvent([]string{sel(NameCancelled)}, []string{"0x2", "0x0"}))
	require.NoError(t, err)
	assert.IsType(t, model.Cancelled{}, ev)

	ev, err = d.Decode(rawEvent([]string{sel(NameLiquidated)}, []string{"0x2", "0x0"}))
	require.NoError(t, err)
	assert.IsType(t, model.Liquidated{}, ev)
}

func TestDecodeArity(t *testing.T) {
	d := newDecoder(t)
	cases := []struct {
		name string
		keys []string
		data []string
	}{
		{"signed short data", []string{sel(NameSigned)}, []string{"0x1", "0x0", "0xA", "0x1"}},
		{"signed extra key", []string{sel(NameSigned), "0x1"}, []string{"0x1", "0x0", "0xA", "0x1", "0x0"}},
		{"cancelled long data", []string{sel(NameCancelled)}, []string{"0x1", "0x0", "0x0"}},
		{"repaid missing id half", []string{sel(NameRepaid), "0x1"}, []string{"0x1"}},
		{"redeemed no data", []string{sel(NameRedeemed), "0x1", "0x0", "0x2"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode(rawEvent(tc.keys, tc.data))
			var malformed *MalformedEventError
			require.True(t, errors.As(err, &malformed), "err = %v", err)
		})
	}
}

func TestDecodeRejectsWideHalf(t *testing.T) {
	d := newDecoder(t)
	wide := "0x100000000000000000000000000000000" // 2^128
	_, err := d.Decode(rawEvent([]string{sel(NameCancelled)}, []string{wide, "0x0"}))
	var malformed *MalformedEventError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, model.KindCancelled, malformed.Kind)
}

func TestDecodeRejectsBadFelt(t *testing.T) {
	d := newDecoder(t)
	_, err := d.Decode(rawEvent([]string{sel(NameSigned)}, []string{"0x1", "0x0", "zz", "0x1", "0x0"}))
	var malformed *MalformedEventError
	require.ErrorAs(t, err, &malformed)
}

func TestDecodeUnknownSelector(t *testing.T) {
	d := newDecoder(t)
	ev, err := d.Decode(rawEvent([]string{sel("Transfer")}, []string{"0x1"}))
	require.NoError(t, err)
	unknown, ok := ev.(model.Unrecognized)
	require.True(t, ok)
	assert.Equal(t, sel("Transfer"), unknown.Selector)

	ev, err = d.Decode(rawEvent(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, model.KindUnrecognized, ev.Kind())
}

func TestSelectorMapOverride(t *testing.T) {
	custom := sel("LoanCancelled")
	d, err := New(map[string]string{custom: "Cancelled"})
	require.NoError(t, err)

	ev, err := d.Decode(rawEvent([]string{custom}, []string{"0x4", "0x0"}))
	require.NoError(t, err)
	assert.IsType(t, model.Cancelled{}, ev)

	_, err = New(map[string]string{custom: "bogus"})
	assert.Error(t, err)
	_, err = New(map[string]string{"not-hex": "cancelled"})
	assert.Error(t, err)
}

func uintFrom(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}
