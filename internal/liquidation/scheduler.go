// Package liquidation periodically settles overdue agreements on chain.
package liquidation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lendingScope/internal/chain"
	"lendingScope/internal/felt"
	"lendingScope/internal/metrics"
	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

// EntryPoint is the contract function that settles an overdue agreement.
const EntryPoint = "liquidate"

// Executor submits an invoke transaction and returns its hash.
type Executor interface {
	Execute(ctx context.Context, contract, entryPoint string, calldata []string) (string, error)
}

// Waiter blocks until a submitted transaction settles.
type Waiter interface {
	WaitForTransaction(ctx context.Context, txHash string, every time.Duration) (chain.Receipt, error)
}

// Config holds scheduler settings.
type Config struct {
	Contract     string
	Interval     time.Duration
	BatchSize    int
	TxTimeout    time.Duration
	ReceiptEvery time.Duration
	// QueryTimeout bounds the overdue query.
	QueryTimeout time.Duration
	DryRun       bool
}

// State is the scheduler's position in its tick cycle.
type State int32

const (
	StateIdle State = iota
	StateQuerying
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuerying:
		return "querying"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Status is the outcome of one liquidation attempt.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
	StatusFailed    Status = "failed"
	// StatusTimeout means the outcome is unknown: the transaction may still land.
	StatusTimeout Status = "timeout"
	StatusDryRun  Status = "dry_run"
)

// Result reports one candidate.
type Result struct {
	ID     string
	TxHash string
	Status Status
	Err    error
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records scheduler instruments.
func WithMetrics(m *metrics.Liquidation) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler finds overdue agreements through a read-only view of the store
// and submits a liquidation for each.
type Scheduler struct {
	cfg     Config
	reader  storage.Reader
	exec    Executor
	waiter  Waiter
	metrics *metrics.Liquidation
	logger  *zap.Logger
	now     func() time.Time
	state   atomic.Int32
	// settled holds ids confirmed on chain that the indexer has not caught up with.
	settled map[string]struct{}
}

func New(cfg Config, reader storage.Reader, exec Executor, waiter Waiter, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 120 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	s := &Scheduler{
		cfg:     cfg,
		reader:  reader,
		exec:    exec,
		waiter:  waiter,
		logger:  logger,
		now:     time.Now,
		settled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current tick state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run ticks immediately and then every Interval until ctx ends. A failing
// tick is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	s.logger.Info("liquidation scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Bool("dry_run", s.cfg.DryRun),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("liquidation tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one query and dispatch cycle. It returns an error only when the
// candidate query fails; per-candidate failures are reported in the results.
func (s *Scheduler) Tick(ctx context.Context) ([]Result, error) {
	defer s.state.Store(int32(StateIdle))
	if s.metrics != nil {
		s.metrics.Ticks.Inc()
	}

	s.state.Store(int32(StateQuerying))
	candidates, err := s.overdue(ctx)
	if err != nil {
		return nil, fmt.Errorf("query overdue agreements: %w", err)
	}
	if s.metrics != nil {
		s.metrics.Candidates.Set(float64(len(candidates)))
	}
	s.forgetIndexed(candidates)
	if len(candidates) == 0 {
		s.logger.Debug("no liquidatable agreements")
		return nil, nil
	}
	s.logger.Info("found liquidation candidates", zap.Int("count", len(candidates)))

	s.state.Store(int32(StateDispatching))
	results := make([]Result, 0, len(candidates))
	for _, a := range candidates {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if _, ok := s.settled[a.ID]; ok {
			continue
		}
		res := s.liquidate(ctx, a)
		s.observe(res)
		results = append(results, res)
	}
	return results, nil
}

func (s *Scheduler) overdue(ctx context.Context) ([]model.Agreement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.reader.Overdue(ctx, uint64(s.now().Unix()), s.cfg.BatchSize)
}

// forgetIndexed drops settled ids that no longer show up as overdue.
func (s *Scheduler) forgetIndexed(candidates []model.Agreement) {
	if len(s.settled) == 0 {
		return
	}
	still := make(map[string]struct{}, len(candidates))
	for _, a := range candidates {
		still[a.ID] = struct{}{}
	}
	for id := range s.settled {
		if _, ok := still[id]; !ok {
			delete(s.settled, id)
		}
	}
}

func (s *Scheduler) liquidate(ctx context.Context, a model.Agreement) Result {
	res := Result{ID: a.ID}
	id, err := felt.Parse(a.ID)
	if err != nil {
		res.Status, res.Err = StatusFailed, fmt.Errorf("parse agreement id: %w", err)
		return res
	}
	lo, hi := felt.Split(id)
	calldata := []string{lo.Hex(), hi.Hex()}

	if s.cfg.DryRun {
		res.Status = StatusDryRun
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	res.TxHash, err = s.exec.Execute(ctx, s.cfg.Contract, EntryPoint, calldata)
	if err != nil {
		res.Status, res.Err = statusFor(err), err
		return res
	}
	if _, err := s.waiter.WaitForTransaction(ctx, res.TxHash, s.cfg.ReceiptEvery); err != nil {
		res.Status, res.Err = statusFor(err), err
		return res
	}
	res.Status = StatusConfirmed
	s.settled[a.ID] = struct{}{}
	return res
}

func statusFor(err error) Status {
	var reverted *chain.RevertedError
	switch {
	case errors.As(err, &reverted):
		return StatusReverted
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusFailed
	}
}

func (s *Scheduler) observe(res Result) {
	if s.metrics != nil {
		s.metrics.Attempts.WithLabelValues(string(res.Status)).Inc()
	}
	fields := []zap.Field{zap.String("id", res.ID), zap.String("status", string(res.Status))}
	if res.TxHash != "" {
		fields = append(fields, zap.String("tx_hash", res.TxHash))
	}
	switch res.Status {
	case StatusConfirmed:
		s.logger.Info("liquidated", fields...)
	case StatusDryRun:
		s.logger.Info("would liquidate", fields...)
	case StatusTimeout:
		s.logger.Warn("liquidation outcome unknown", append(fields, zap.Error(res.Err))...)
	default:
		s.logger.Error("liquidation failed", append(fields, zap.Error(res.Err))...)
	}
}
