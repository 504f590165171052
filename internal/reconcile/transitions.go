package reconcile

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

func checkOrder(kind model.EventKind, id string, pos model.Position, lastBlock uint64, lastLogIndex uint32) error {
	if pos.Before(lastBlock, lastLogIndex) {
		return &OrderingViolation{
			Kind:         kind,
			SubjectID:    id,
			Block:        pos.BlockNumber,
			LogIndex:     pos.LogIndex,
			LastBlock:    lastBlock,
			LastLogIndex: lastLogIndex,
		}
	}
	return nil
}

func parseAmount(s string) (uint256.Int, error) {
	var v uint256.Int
	if s == "" {
		return v, nil
	}
	if err := v.SetFromDecimal(s); err != nil {
		return v, fmt.Errorf("stored amount %q: %w", s, err)
	}
	return v, nil
}

func applySigned(ctx context.Context, tx storage.Tx, id string, e model.Signed) (bool, error) {
	a, ok, err := tx.Agreement(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		if err := checkOrder(e.Kind(), id, e.Position, a.LastBlock, a.LastLogIndex); err != nil {
			return false, err
		}
	} else {
		a = model.Agreement{ID: id}
	}

	pct, err := parseAmount(a.IssuedDebtPercentage)
	if err != nil {
		return false, err
	}
	if e.IssuedDebtPercentage.Gt(&pct) {
		pct = e.IssuedDebtPercentage
	}
	a.IssuedDebtPercentage = pct.Dec()
	a.Lender = e.Lender

	if !a.Status.Terminal() {
		if next := model.SignedStatus(pct); next.Rank() >= a.Status.Rank() {
			a.Status = next
		}
		a.SignedAt = e.Timestamp
	}
	if e.Terms != nil && a.Terms.IsZero() {
		a.Terms = *e.Terms
	}
	a.UpdatedAt = e.Timestamp
	a.LastBlock, a.LastLogIndex = e.BlockNumber, e.LogIndex
	return true, tx.PutAgreement(ctx, a)
}

func applyCancelled(ctx context.Context, tx storage.Tx, id string, e model.Cancelled) (bool, error) {
	a, ok, err := tx.Agreement(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := checkOrder(e.Kind(), id, e.Position, a.LastBlock, a.LastLogIndex); err != nil {
		return false, err
	}
	if !a.Status.Terminal() {
		a.Status = model.AgreementCancelled
	}
	a.UpdatedAt = e.Timestamp
	a.LastBlock, a.LastLogIndex = e.BlockNumber, e.LogIndex
	return true, tx.PutAgreement(ctx, a)
}

func applyLiquidated(ctx context.Context, tx storage.Tx, id string, e model.Liquidated) (bool, error) {
	touched := false

	a, ok, err := tx.Agreement(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		if err := checkOrder(e.Kind(), id, e.Position, a.LastBlock, a.LastLogIndex); err != nil {
			return false, err
		}
		if !a.Status.Terminal() {
			a.Status = model.AgreementLiquidated
		}
		a.UpdatedAt = e.Timestamp
		a.LastBlock, a.LastLogIndex = e.BlockNumber, e.LogIndex
		if err := tx.PutAgreement(ctx, a); err != nil {
			return false, err
		}
		touched = true
	}

	// An id with an agreement row but no inscription row is an agreement-only
	// liquidation. Otherwise the inscription is created if missing.
	_, hasInscription, err := tx.Inscription(ctx, id)
	if err != nil {
		return false, err
	}
	if touched && !hasInscription {
		return true, nil
	}
	i, err := loadInscription(ctx, tx, id, e.Kind(), e.Position)
	if err != nil {
		return false, err
	}
	if i.RepaymentStatus == model.RepaymentOpen || i.RepaymentStatus == "" {
		i.RepaymentStatus = model.RepaymentLiquidated
	}
	putInscription(&i, e.Position)
	return true, tx.PutInscription(ctx, i)
}

func loadInscription(ctx context.Context, tx storage.Tx, id string, kind model.EventKind, pos model.Position) (model.Inscription, error) {
	i, ok, err := tx.Inscription(ctx, id)
	if err != nil {
		return model.Inscription{}, err
	}
	if !ok {
		return model.Inscription{ID: id, RepaymentStatus: model.RepaymentOpen, RedeemedShares: "0"}, nil
	}
	if err := checkOrder(kind, id, pos, i.LastBlock, i.LastLogIndex); err != nil {
		return model.Inscription{}, err
	}
	return i, nil
}

func putInscription(i *model.Inscription, pos model.Position) {
	i.Status = i.DisplayStatus()
	i.UpdatedAt = pos.Timestamp
	i.LastBlock, i.LastLogIndex = pos.BlockNumber, pos.LogIndex
}

func applyRepaid(ctx context.Context, tx storage.Tx, id string, e model.Repaid) (bool, error) {
	i, err := loadInscription(ctx, tx, id, e.Kind(), e.Position)
	if err != nil {
		return false, err
	}
	if i.RepaymentStatus == model.RepaymentOpen || i.RepaymentStatus == "" {
		i.RepaymentStatus = model.RepaymentRepaid
	}
	putInscription(&i, e.Position)
	return true, tx.PutInscription(ctx, i)
}

func applyRedeemed(ctx context.Context, tx storage.Tx, id string, e model.Redeemed) (bool, error) {
	i, err := loadInscription(ctx, tx, id, e.Kind(), e.Position)
	if err != nil {
		return false, err
	}
	total, err := parseAmount(i.RedeemedShares)
	if err != nil {
		return false, err
	}
	if _, overflow := total.AddOverflow(&total, &e.Shares); overflow {
		return false, fmt.Errorf("redeemed shares of %s overflow u256", id)
	}
	i.RedeemedShares = total.Dec()
	i.Redeemed = true
	putInscription(&i, e.Position)
	return true, tx.PutInscription(ctx, i)
}
