// Package reconcile folds decoded protocol events into agreement and
// inscription state, exactly once per event.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

// Outcome is the effect of applying one event.
type Outcome int

const (
	// OutcomeApplied means the event was recorded and mutated at least one row.
	OutcomeApplied Outcome = iota
	// OutcomeRecorded means the event was recorded but no row exists to update.
	OutcomeRecorded
	// OutcomeDuplicate means the event had already been applied.
	OutcomeDuplicate
	// OutcomeIgnored means the event is not a protocol event.
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// OrderingViolation reports an event older than the last one applied to the
// same row. It is fatal for the pipeline.
type OrderingViolation struct {
	Kind         model.EventKind
	SubjectID    string
	Block        uint64
	LogIndex     uint32
	LastBlock    uint64
	LastLogIndex uint32
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("%s event for %s at %d/%d precedes last applied %d/%d",
		e.Kind, e.SubjectID, e.Block, e.LogIndex, e.LastBlock, e.LastLogIndex)
}

// DefaultTxTimeout bounds one store transaction.
const DefaultTxTimeout = 15 * time.Second

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTxTimeout bounds each store transaction, including its commit.
func WithTxTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.txTimeout = d
		}
	}
}

// Reconciler applies events through a store.
type Reconciler struct {
	store     storage.Store
	logger    *zap.Logger
	txTimeout time.Duration
}

func New(store storage.Store, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{store: store, logger: logger, txTimeout: DefaultTxTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// withTx runs fn in a store transaction bounded by the transaction timeout.
func (r *Reconciler) withTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()
	if err := r.store.WithTx(ctx, func(tx storage.Tx) error { return fn(ctx, tx) }); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("store transaction exceeded %s: %w", r.txTimeout, err)
		}
		return err
	}
	return nil
}

// Apply records ev and applies its transition in one transaction.
func (r *Reconciler) Apply(ctx context.Context, ev model.Event) (Outcome, error) {
	return r.apply(ctx, ev, nil)
}

// BlockResult summarizes ApplyBlock.
type BlockResult struct {
	Outcomes []Outcome
	Records  []model.EventRecord
}

// Count returns how many events had outcome o.
func (b BlockResult) Count(o Outcome) int {
	n := 0
	for _, got := range b.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

// ApplyBlock applies the events of one block in order. The cursor is set to
// block in the same transaction as the last event, so a crash never leaves
// the cursor ahead of the applied state. An empty block only advances the
// cursor.
func (r *Reconciler) ApplyBlock(ctx context.Context, block uint64, events []model.Event) (BlockResult, error) {
	var res BlockResult
	if len(events) == 0 {
		return res, r.AdvanceCursor(ctx, block)
	}
	for i, ev := range events {
		if ev.At().BlockNumber != block {
			return res, fmt.Errorf("event at block %d passed to block %d", ev.At().BlockNumber, block)
		}
		var cursor *uint64
		if i == len(events)-1 {
			cursor = &block
		}
		var rec *model.EventRecord
		outcome, err := r.apply(ctx, ev, func(ctx context.Context, tx storage.Tx, applied *model.EventRecord) error {
			rec = applied
			if cursor == nil {
				return nil
			}
			return tx.SetCursor(ctx, *cursor)
		})
		if err != nil {
			return res, err
		}
		res.Outcomes = append(res.Outcomes, outcome)
		if rec != nil {
			res.Records = append(res.Records, *rec)
		}
	}
	return res, nil
}

// AdvanceCursor marks block as reconciled without applying events.
func (r *Reconciler) AdvanceCursor(ctx context.Context, block uint64) error {
	return r.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetCursor(ctx, block)
	})
}

// apply runs one event transaction. after, when set, runs inside the same
// transaction once the transition succeeded; it receives the inserted record
// or nil for a duplicate.
func (r *Reconciler) apply(ctx context.Context, ev model.Event, after func(context.Context, storage.Tx, *model.EventRecord) error) (Outcome, error) {
	var outcome Outcome
	err := r.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var rec *model.EventRecord
		var err error
		outcome, rec, err = r.transition(ctx, tx, ev)
		if err != nil {
			return err
		}
		if after != nil {
			return after(ctx, tx, rec)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if outcome == OutcomeDuplicate {
		r.logger.Debug("event already applied",
			zap.String("kind", string(ev.Kind())),
			zap.String("tx_hash", ev.At().TxHash),
		)
	}
	return outcome, nil
}

func (r *Reconciler) transition(ctx context.Context, tx storage.Tx, ev model.Event) (Outcome, *model.EventRecord, error) {
	rec, ok, err := model.RecordOf(ev)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return OutcomeIgnored, nil, nil
	}
	inserted, err := tx.InsertEvent(ctx, rec)
	if err != nil {
		return 0, nil, err
	}
	if !inserted {
		return OutcomeDuplicate, nil, nil
	}

	var touched bool
	switch e := ev.(type) {
	case model.Signed:
		touched, err = applySigned(ctx, tx, rec.SubjectID, e)
	case model.Cancelled:
		touched, err = applyCancelled(ctx, tx, rec.SubjectID, e)
	case model.Liquidated:
		touched, err = applyLiquidated(ctx, tx, rec.SubjectID, e)
	case model.Repaid:
		touched, err = applyRepaid(ctx, tx, rec.SubjectID, e)
	case model.Redeemed:
		touched, err = applyRedeemed(ctx, tx, rec.SubjectID, e)
	}
	if err != nil {
		return 0, nil, err
	}
	if !touched {
		return OutcomeRecorded, &rec, nil
	}
	return OutcomeApplied, &rec, nil
}
