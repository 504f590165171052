// Package storage defines the persistence contract of the reconciler and
// the read surface used by the scheduler and query tooling.
package storage

import (
	"context"

	"lendingScope/internal/model"
)

// Tx is a unit of work. Every mutation made through a Tx commits together
// or not at all.
type Tx interface {
	// InsertEvent appends an event record. It reports false, without error,
	// when a record with the same idempotency key already exists.
	InsertEvent(ctx context.Context, rec model.EventRecord) (bool, error)
	Agreement(ctx context.Context, id string) (model.Agreement, bool, error)
	PutAgreement(ctx context.Context, a model.Agreement) error
	Inscription(ctx context.Context, id string) (model.Inscription, bool, error)
	PutInscription(ctx context.Context, i model.Inscription) error
	// SetCursor records block as fully reconciled. The cursor never moves
	// backward; a lower value is ignored.
	SetCursor(ctx context.Context, block uint64) error
}

// Reader is the read-only view of reconciled state.
type Reader interface {
	Cursor(ctx context.Context) (uint64, bool, error)
	GetAgreement(ctx context.Context, id string) (model.Agreement, bool, error)
	GetInscription(ctx context.Context, id string) (model.Inscription, bool, error)
	// Events returns the history of a subject in chain order.
	Events(ctx context.Context, subjectID string) ([]model.EventRecord, error)
	// Overdue returns filled agreements whose term ended before now, earliest
	// due first.
	Overdue(ctx context.Context, now uint64, limit int) ([]model.Agreement, error)
}

// Store is the full data store.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close()
}

// Archive is a sink for committed event records.
type Archive interface {
	PutRecords(records []model.EventRecord) error
}
