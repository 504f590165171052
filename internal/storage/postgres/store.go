package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

// DefaultCursorName keys the cursor row when none is configured.
const DefaultCursorName = "lending"

// Store provides Postgres persistence for reconciled lending state.
type Store struct {
	pool       *pgxpool.Pool
	cursorName string
}

// Options tunes the connection pool.
type Options struct {
	MaxConns   int32
	CursorName string
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	name := opts.CursorName
	if name == "" {
		name = DefaultCursorName
	}
	return &Store{pool: pool, cursorName: name}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agreements (
		id TEXT PRIMARY KEY,
		lender TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		issued_debt_percentage NUMERIC(78,0) NOT NULL DEFAULT 0,
		signed_at BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0,
		duration BIGINT NOT NULL DEFAULT 0,
		deadline BIGINT NOT NULL DEFAULT 0,
		multi_lender BOOLEAN NOT NULL DEFAULT false,
		debt_asset_count INTEGER NOT NULL DEFAULT 0,
		interest_asset_count INTEGER NOT NULL DEFAULT 0,
		collateral_asset_count INTEGER NOT NULL DEFAULT 0,
		last_block BIGINT NOT NULL DEFAULT 0,
		last_log_index INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS agreements_due_idx
		ON agreements ((signed_at + duration)) WHERE status = 'filled'`,
	`CREATE TABLE IF NOT EXISTS inscriptions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		repayment_status TEXT NOT NULL,
		redeemed BOOLEAN NOT NULL DEFAULT false,
		redeemed_shares NUMERIC(78,0) NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0,
		last_block BIGINT NOT NULL DEFAULT 0,
		last_log_index INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		event_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		block_hash TEXT NOT NULL DEFAULT '',
		log_index INTEGER NOT NULL,
		timestamp BIGINT NOT NULL DEFAULT 0,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		PRIMARY KEY (tx_hash, event_type, subject_id)
	)`,
	`CREATE INDEX IF NOT EXISTS events_subject_idx ON events (subject_id, block_number, log_index)`,
	`CREATE TABLE IF NOT EXISTS indexer_cursor (
		name TEXT PRIMARY KEY,
		last_block BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// WithTx runs fn in a database transaction, committing when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, cursorName: s.cursorName}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Cursor returns the last fully reconciled block.
func (s *Store) Cursor(ctx context.Context) (uint64, bool, error) {
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM indexer_cursor WHERE name=$1`, s.cursorName)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

func (s *Store) GetAgreement(ctx context.Context, id string) (model.Agreement, bool, error) {
	return scanAgreement(s.pool.QueryRow(ctx, selectAgreement+` WHERE id=$1`, id))
}

func (s *Store) GetInscription(ctx context.Context, id string) (model.Inscription, bool, error) {
	return scanInscription(s.pool.QueryRow(ctx, selectInscription+` WHERE id=$1`, id))
}

func (s *Store) Events(ctx context.Context, subjectID string) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_type, subject_id, tx_hash, block_number, block_hash, log_index, timestamp, payload
		FROM events WHERE subject_id=$1
		ORDER BY block_number, log_index
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.EventRecord, 0)
	for rows.Next() {
		var (
			rec     model.EventRecord
			kind    string
			payload []byte
		)
		if err := rows.Scan(&kind, &rec.SubjectID, &rec.TxHash, &rec.BlockNumber, &rec.BlockHash, &rec.LogIndex, &rec.Timestamp, &payload); err != nil {
			return nil, err
		}
		rec.EventType = model.EventKind(kind)
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Overdue(ctx context.Context, now uint64, limit int) ([]model.Agreement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, selectAgreement+`
		WHERE status = 'filled' AND duration > 0 AND signed_at > 0 AND signed_at + duration < $1
		ORDER BY signed_at + duration, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Agreement, 0)
	for rows.Next() {
		a, _, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const selectAgreement = `
	SELECT id, lender, status, issued_debt_percentage::text, signed_at, updated_at,
		duration, deadline, multi_lender, debt_asset_count, interest_asset_count,
		collateral_asset_count, last_block, last_log_index
	FROM agreements`

const selectInscription = `
	SELECT id, status, repayment_status, redeemed, redeemed_shares::text, updated_at,
		last_block, last_log_index
	FROM inscriptions`

func scanAgreement(row pgx.Row) (model.Agreement, bool, error) {
	var (
		a      model.Agreement
		status string
	)
	err := row.Scan(&a.ID, &a.Lender, &status, &a.IssuedDebtPercentage, &a.SignedAt, &a.UpdatedAt,
		&a.Duration, &a.Deadline, &a.MultiLender, &a.DebtAssetCount, &a.InterestAssetCount,
		&a.CollateralAssetCount, &a.LastBlock, &a.LastLogIndex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agreement{}, false, nil
		}
		return model.Agreement{}, false, err
	}
	a.Status = model.AgreementStatus(status)
	return a, true, nil
}

func scanInscription(row pgx.Row) (model.Inscription, bool, error) {
	var (
		i         model.Inscription
		status    string
		repayment string
	)
	err := row.Scan(&i.ID, &status, &repayment, &i.Redeemed, &i.RedeemedShares, &i.UpdatedAt, &i.LastBlock, &i.LastLogIndex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Inscription{}, false, nil
		}
		return model.Inscription{}, false, err
	}
	i.Status = model.InscriptionStatus(status)
	i.RepaymentStatus = model.RepaymentStatus(repayment)
	return i, true, nil
}

type pgTx struct {
	tx         pgx.Tx
	cursorName string
}

func (t *pgTx) InsertEvent(ctx context.Context, rec model.EventRecord) (bool, error) {
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO events (event_type, subject_id, tx_hash, block_number, block_hash, log_index, timestamp, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (tx_hash, event_type, subject_id) DO NOTHING
	`, string(rec.EventType), rec.SubjectID, rec.TxHash, rec.BlockNumber, rec.BlockHash, rec.LogIndex, rec.Timestamp, payload)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) Agreement(ctx context.Context, id string) (model.Agreement, bool, error) {
	return scanAgreement(t.tx.QueryRow(ctx, selectAgreement+` WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) PutAgreement(ctx context.Context, a model.Agreement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO agreements (
			id, lender, status, issued_debt_percentage, signed_at, updated_at,
			duration, deadline, multi_lender, debt_asset_count, interest_asset_count,
			collateral_asset_count, last_block, last_log_index
		) VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			lender = EXCLUDED.lender,
			status = EXCLUDED.status,
			issued_debt_percentage = EXCLUDED.issued_debt_percentage,
			signed_at = EXCLUDED.signed_at,
			updated_at = EXCLUDED.updated_at,
			duration = EXCLUDED.duration,
			deadline = EXCLUDED.deadline,
			multi_lender = EXCLUDED.multi_lender,
			debt_asset_count = EXCLUDED.debt_asset_count,
			interest_asset_count = EXCLUDED.interest_asset_count,
			collateral_asset_count = EXCLUDED.collateral_asset_count,
			last_block = EXCLUDED.last_block,
			last_log_index = EXCLUDED.last_log_index
	`,
		a.ID, a.Lender, string(a.Status), numeric(a.IssuedDebtPercentage), a.SignedAt, a.UpdatedAt,
		a.Duration, a.Deadline, a.MultiLender, a.DebtAssetCount, a.InterestAssetCount,
		a.CollateralAssetCount, a.LastBlock, a.LastLogIndex,
	)
	if err != nil {
		return fmt.Errorf("put agreement %s: %w", a.ID, err)
	}
	return nil
}

func (t *pgTx) Inscription(ctx context.Context, id string) (model.Inscription, bool, error) {
	return scanInscription(t.tx.QueryRow(ctx, selectInscription+` WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) PutInscription(ctx context.Context, i model.Inscription) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO inscriptions (
			id, status, repayment_status, redeemed, redeemed_shares, updated_at, last_block, last_log_index
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			repayment_status = EXCLUDED.repayment_status,
			redeemed = EXCLUDED.redeemed,
			redeemed_shares = EXCLUDED.redeemed_shares,
			updated_at = EXCLUDED.updated_at,
			last_block = EXCLUDED.last_block,
			last_log_index = EXCLUDED.last_log_index
	`,
		i.ID, string(i.Status), string(i.RepaymentStatus), i.Redeemed, numeric(i.RedeemedShares),
		i.UpdatedAt, i.LastBlock, i.LastLogIndex,
	)
	if err != nil {
		return fmt.Errorf("put inscription %s: %w", i.ID, err)
	}
	return nil
}

func (t *pgTx) SetCursor(ctx context.Context, block uint64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO indexer_cursor (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = GREATEST(indexer_cursor.last_block, EXCLUDED.last_block), updated_at = now()
	`, t.cursorName, block)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func numeric(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
