package storage

import (
	"context"
	"sort"
	"sync"

	"lendingScope/internal/model"
)

// Memory is an in-process Store. Transactions are serialized and buffered
// until fn returns nil.
type Memory struct {
	mu           sync.Mutex
	events       []model.EventRecord
	keys         map[model.RecordKey]struct{}
	agreements   map[string]model.Agreement
	inscriptions map[string]model.Inscription
	cursor       uint64
	hasCursor    bool
}

func NewMemory() *Memory {
	return &Memory{
		keys:         make(map[model.RecordKey]struct{}),
		agreements:   make(map[string]model.Agreement),
		inscriptions: make(map[string]model.Inscription),
	}
}

func (m *Memory) Close() {}

// WithTx runs fn against a buffered view and commits on success.
// fn must not call Reader methods on m.
func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		m:            m,
		keys:         make(map[model.RecordKey]struct{}),
		agreements:   make(map[string]model.Agreement),
		inscriptions: make(map[string]model.Inscription),
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.events = append(m.events, tx.events...)
	for k := range tx.keys {
		m.keys[k] = struct{}{}
	}
	for id, a := range tx.agreements {
		m.agreements[id] = a
	}
	for id, i := range tx.inscriptions {
		m.inscriptions[id] = i
	}
	if tx.hasCursor && (!m.hasCursor || tx.cursor > m.cursor) {
		m.cursor = tx.cursor
		m.hasCursor = true
	}
	return nil
}

func (m *Memory) Cursor(ctx context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, m.hasCursor, nil
}

func (m *Memory) GetAgreement(ctx context.Context, id string) (model.Agreement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	return a, ok, nil
}

func (m *Memory) GetInscription(ctx context.Context, id string) (model.Inscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.inscriptions[id]
	return i, ok, nil
}

func (m *Memory) Events(ctx context.Context, subjectID string) ([]model.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.EventRecord, 0)
	for _, rec := range m.events {
		if rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

func (m *Memory) Overdue(ctx context.Context, now uint64, limit int) ([]model.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Agreement, 0)
	for _, a := range m.agreements {
		if a.Overdue(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt() != out[j].DueAt() {
			return out[i].DueAt() < out[j].DueAt()
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EventCount returns the number of committed event records.
func (m *Memory) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type memTx struct {
	m            *Memory
	events       []model.EventRecord
	keys         map[model.RecordKey]struct{}
	agreements   map[string]model.Agreement
	inscriptions map[string]model.Inscription
	cursor       uint64
	hasCursor    bool
}

func (t *memTx) InsertEvent(ctx context.Context, rec model.EventRecord) (bool, error) {
	key := rec.Key()
	if _, ok := t.m.keys[key]; ok {
		return false, nil
	}
	if _, ok := t.keys[key]; ok {
		return false, nil
	}
	t.keys[key] = struct{}{}
	t.events = append(t.events, rec)
	return true, nil
}

func (t *memTx) Agreement(ctx context.Context, id string) (model.Agreement, bool, error) {
	if a, ok := t.agreements[id]; ok {
		return a, true, nil
	}
	a, ok := t.m.agreements[id]
	return a, ok, nil
}

func (t *memTx) PutAgreement(ctx context.Context, a model.Agreement) error {
	t.agreements[a.ID] = a
	return nil
}

func (t *memTx) Inscription(ctx context.Context, id string) (model.Inscription, bool, error) {
	if i, ok := t.inscriptions[id]; ok {
		return i, true, nil
	}
	i, ok := t.m.inscriptions[id]
	return i, ok, nil
}

func (t *memTx) PutInscription(ctx context.Context, i model.Inscription) error {
	t.inscriptions[i.ID] = i
	return nil
}

func (t *memTx) SetCursor(ctx context.Context, block uint64) error {
	if !t.hasCursor || block > t.cursor {
		t.cursor = block
		t.hasCursor = true
	}
	return nil
}
