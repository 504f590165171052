package chain

import (
	"context"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"lendingScope/internal/felt"
	"lendingScope/internal/model"
)

// Field offsets of the get_inscription result:
// borrower, lender, duration, deadline, signed_at, issued_debt_percentage
// (low, high), is_repaid, liquidated, multi_lender, debt_asset_count,
// interest_asset_count, collateral_asset_count.
const (
	inscriptionDuration        = 2
	inscriptionDeadline        = 3
	inscriptionMultiLender     = 9
	inscriptionDebtAssets      = 10
	inscriptionInterestAssets  = 11
	inscriptionCollateralAsset = 12
	inscriptionFields          = 13
)

// InscriptionTerms reads the structural terms of an inscription.
func (c *Client) InscriptionTerms(ctx context.Context, contract string, id uint256.Int) (model.Terms, error) {
	lo, hi := felt.Split(id)
	out, err := c.Call(ctx, contract, "get_inscription", []string{lo.Hex(), hi.Hex()})
	if err != nil {
		return model.Terms{}, err
	}
	return DecodeTerms(out)
}

// DecodeTerms parses the felts returned by get_inscription.
func DecodeTerms(out []string) (model.Terms, error) {
	if len(out) < inscriptionFields {
		return model.Terms{}, fmt.Errorf("get_inscription: want %d felts, got %d", inscriptionFields, len(out))
	}
	word := func(i int) (uint64, error) {
		v, err := felt.Parse(out[i])
		if err != nil {
			return 0, fmt.Errorf("get_inscription field %d: %w", i, err)
		}
		if !v.IsUint64() {
			return 0, fmt.Errorf("get_inscription field %d overflows u64", i)
		}
		return v.Uint64(), nil
	}

	var (
		t   model.Terms
		err error
		n   uint64
	)
	if t.Duration, err = word(inscriptionDuration); err != nil {
		return model.Terms{}, err
	}
	if t.Deadline, err = word(inscriptionDeadline); err != nil {
		return model.Terms{}, err
	}
	if n, err = word(inscriptionMultiLender); err != nil {
		return model.Terms{}, err
	}
	t.MultiLender = n != 0
	counts := []*uint32{&t.DebtAssetCount, &t.InterestAssetCount, &t.CollateralAssetCount}
	for i, dst := range counts {
		if n, err = word(inscriptionDebtAssets + i); err != nil {
			return model.Terms{}, err
		}
		if n > math.MaxUint32 {
			return model.Terms{}, fmt.Errorf("get_inscription field %d: asset count %d overflows u32", inscriptionDebtAssets+i, n)
		}
		*dst = uint32(n)
	}
	return t, nil
}
