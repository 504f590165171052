package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"lendingScope/internal/chain"
	"lendingScope/internal/decoder"
	"lendingScope/internal/felt"
	"lendingScope/internal/metrics"
	"lendingScope/internal/model"
	"lendingScope/internal/reconcile"
	"lendingScope/internal/storage"
)

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	Contract      string
	FromBlock     uint64
	ToBlock       uint64
	MaxBlockRange uint64
	ChunkSize     int
	PollInterval  time.Duration
	Follow        bool
	MaxRetries    int
	RetryBackoff  time.Duration
	// StoreTimeout bounds each store call and transaction.
	StoreTimeout time.Duration
}

// TermsReader reads on-chain agreement terms.
type TermsReader interface {
	InscriptionTerms(ctx context.Context, contract string, id uint256.Int) (model.Terms, error)
}

// Option configures optional Runner dependencies.
type Option func(*Runner)

// WithTerms resolves structural terms for signed agreements.
func WithTerms(terms TermsReader) Option {
	return func(r *Runner) { r.terms = terms }
}

// WithArchive mirrors committed event records to archive.
func WithArchive(archive storage.Archive) Option {
	return func(r *Runner) { r.archive = archive }
}

// WithMetrics records pipeline instruments.
func WithMetrics(m *metrics.Indexer) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner fetches contract events, decodes them and reconciles them into the
// store one block at a time.
type Runner struct {
	cfg        RunConfig
	src        LogSource
	store      storage.Store
	decoder    *decoder.Decoder
	reconciler *reconcile.Reconciler
	fetcher    *Fetcher
	terms      TermsReader
	archive    storage.Archive
	metrics    *metrics.Indexer
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, src LogSource, store storage.Store, dec *decoder.Decoder, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 500
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = reconcile.DefaultTxTimeout
	}
	r := &Runner{
		cfg:        cfg,
		src:        src,
		store:      store,
		decoder:    dec,
		reconciler: reconcile.New(store, logger, reconcile.WithTxTimeout(cfg.StoreTimeout)),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	var selectors []string
	if dec != nil {
		selectors = dec.Selectors()
	}
	r.fetcher = NewFetcher(FetchConfig{
		Contract:     cfg.Contract,
		Selectors:    selectors,
		ChunkSize:    cfg.ChunkSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, src, logger)
	if r.metrics != nil {
		r.fetcher.onRetry = r.metrics.FetchRetries.Inc
	}
	return r
}

// Run executes the indexing loop. Without Follow it returns once the target
// block is reconciled; with Follow it keeps polling the head until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	if r.src == nil {
		return fmt.Errorf("log source is nil")
	}
	if r.store == nil {
		return fmt.Errorf("store is nil")
	}
	if r.decoder == nil {
		return fmt.Errorf("decoder is nil")
	}
	if r.cfg.Contract == "" {
		return fmt.Errorf("contract address is required")
	}

	for {
		caughtUp, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if !caughtUp {
			continue
		}
		if !r.cfg.Follow {
			return nil
		}

		timer := time.NewTimer(r.pollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Runner) pollInterval() time.Duration {
	if r.cfg.PollInterval <= 0 {
		return 10 * time.Second
	}
	return r.cfg.PollInterval
}

// Step ingests at most MaxBlockRange blocks past the cursor. It reports true
// when nothing is left to ingest up to the current target.
func (r *Runner) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := time.Now()

	from := r.cfg.FromBlock
	cursor, ok, err := r.loadCursor(ctx)
	if err != nil {
		return false, fmt.Errorf("load cursor: %w", err)
	}
	if ok && cursor >= from {
		from = cursor + 1
	}

	target, err := r.target(ctx)
	if err != nil {
		return false, err
	}
	if from > target {
		r.logger.Debug("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", target))
		return true, nil
	}

	blockRange, err := NextWindow(from, target, r.cfg.MaxBlockRange)
	if err != nil {
		return false, err
	}

	r.logger.Info("fetch events", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	raw, err := r.fetcher.FetchRange(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return false, err
	}

	var applied, duplicates int
	for _, block := range groupByBlock(raw) {
		res, err := r.ingestBlock(ctx, block)
		if err != nil {
			return false, err
		}
		applied += len(res.Records)
		duplicates += res.Count(reconcile.OutcomeDuplicate)
	}

	if err := r.reconciler.AdvanceCursor(ctx, blockRange.To); err != nil {
		return false, fmt.Errorf("advance cursor to %d: %w", blockRange.To, err)
	}
	if r.metrics != nil {
		r.metrics.Cursor.Set(float64(blockRange.To))
		r.metrics.BatchSeconds.Observe(time.Since(start).Seconds())
	}

	r.logger.Info("batch complete",
		zap.Int("events", len(raw)),
		zap.Int("recorded", applied),
		zap.Int("duplicates", duplicates),
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
	)
	return blockRange.To >= target, nil
}

func (r *Runner) loadCursor(ctx context.Context) (uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.Cursor(ctx)
}

// target is the highest block this step may reach: the head, capped by ToBlock.
func (r *Runner) target(ctx context.Context) (uint64, error) {
	var head uint64
	_, err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, chain.IsTransient, func(ctx context.Context) error {
		var err error
		head, err = r.src.LatestBlockNumber(ctx)
		if err != nil && chain.IsTransient(err) {
			r.logger.Warn("get head failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	if r.metrics != nil {
		r.metrics.Head.Set(float64(head))
	}
	if r.cfg.ToBlock != 0 && r.cfg.ToBlock < head {
		return r.cfg.ToBlock, nil
	}
	return head, nil
}

func (r *Runner) ingestBlock(ctx context.Context, block blockEvents) (reconcile.BlockResult, error) {
	ts, err := r.blockTimestamp(ctx, block.Number)
	if err != nil {
		return reconcile.BlockResult{}, fmt.Errorf("block timestamp %d: %w", block.Number, err)
	}

	events := make([]model.Event, 0, len(block.Events))
	for _, raw := range block.Events {
		raw.Timestamp = ts
		ev, err := r.decoder.Decode(raw)
		if err != nil {
			return reconcile.BlockResult{}, err
		}
		switch e := ev.(type) {
		case model.Unrecognized:
			r.logger.Warn("unrecognized event",
				zap.String("selector", e.Selector),
				zap.String("tx_hash", e.TxHash),
				zap.Uint64("block_number", e.BlockNumber),
			)
			if r.metrics != nil {
				r.metrics.Unrecognized.Inc()
			}
			continue
		case model.Signed:
			terms, err := r.termsFor(ctx, e.ID)
			if err != nil {
				return reconcile.BlockResult{}, err
			}
			e.Terms = terms
			ev = e
		}
		events = append(events, ev)
	}

	res, err := r.reconciler.ApplyBlock(ctx, block.Number, events)
	if err != nil {
		return res, fmt.Errorf("reconcile block %d: %w", block.Number, err)
	}
	if r.metrics != nil {
		for i, outcome := range res.Outcomes {
			r.metrics.Events.WithLabelValues(string(events[i].Kind()), outcome.String()).Inc()
		}
	}
	if r.archive != nil && len(res.Records) > 0 {
		if err := r.archive.PutRecords(res.Records); err != nil {
			r.logger.Warn("archive records failed", zap.Error(err), zap.Uint64("block_number", block.Number))
		}
	}
	return res, nil
}

func (r *Runner) blockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	var ts uint64
	_, err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, chain.IsTransient, func(ctx context.Context) error {
		var err error
		ts, err = r.src.BlockTimestamp(ctx, number)
		if err != nil && chain.IsTransient(err) {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", number))
		}
		return err
	})
	return ts, err
}

// termsFor resolves terms for a signed agreement unless they are already
// stored.
func (r *Runner) termsFor(ctx context.Context, id uint256.Int) (*model.Terms, error) {
	if r.terms == nil {
		return nil, nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	a, ok, err := r.store.GetAgreement(storeCtx, felt.Hex(id))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load agreement %s: %w", felt.Hex(id), err)
	}
	if ok && !a.Terms.IsZero() {
		return nil, nil
	}
	return r.resolveTerms(ctx, id), nil
}

// resolveTerms reads agreement terms; a failure leaves them unset so a later
// signing can fill them in.
func (r *Runner) resolveTerms(ctx context.Context, id uint256.Int) *model.Terms {
	if r.terms == nil {
		return nil
	}
	var terms model.Terms
	_, err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, chain.IsTransient, func(ctx context.Context) error {
		var err error
		terms, err = r.terms.InscriptionTerms(ctx, r.cfg.Contract, id)
		return err
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("resolve terms failed", zap.Error(err), zap.String("id", id.Hex()))
		}
		return nil
	}
	return &terms
}
