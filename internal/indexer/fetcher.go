package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lendingScope/internal/chain"
	"lendingScope/internal/model"
)

// LogSource is the node surface the pipeline reads.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	GetEvents(ctx context.Context, filter chain.EventFilter) (chain.EventsPage, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// RangeFetchError reports a block range that could not be fetched after
// exhausting retries.
type RangeFetchError struct {
	From     uint64
	To       uint64
	Attempts int
	Err      error
}

func (e *RangeFetchError) Error() string {
	return fmt.Sprintf("fetch blocks %d-%d failed after %d attempts: %v", e.From, e.To, e.Attempts, e.Err)
}

func (e *RangeFetchError) Unwrap() error { return e.Err }

// FetchConfig holds fetcher settings.
type FetchConfig struct {
	Contract     string
	Selectors    []string
	ChunkSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Fetcher pages through contract events for a block range.
type Fetcher struct {
	cfg     FetchConfig
	src     LogSource
	logger  *zap.Logger
	onRetry func()
}

func NewFetcher(cfg FetchConfig, src LogSource, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	return &Fetcher{cfg: cfg, src: src, logger: logger}
}

func (f *Fetcher) filter(from, to uint64, token string) chain.EventFilter {
	filter := chain.EventFilter{
		FromBlock:         from,
		ToBlock:           to,
		Address:           f.cfg.Contract,
		ChunkSize:         f.cfg.ChunkSize,
		ContinuationToken: token,
	}
	if len(f.cfg.Selectors) > 0 {
		filter.Keys = [][]string{f.cfg.Selectors}
	}
	return filter
}

// FetchPage returns one page of events in [from, to] starting at token.
func (f *Fetcher) FetchPage(ctx context.Context, from, to uint64, token string) (chain.EventsPage, error) {
	var page chain.EventsPage
	attempts, err := withRetry(ctx, f.cfg.MaxRetries, f.cfg.RetryBackoff, chain.IsTransient, func(ctx context.Context) error {
		var err error
		page, err = f.src.GetEvents(ctx, f.filter(from, to, token))
		if err != nil && chain.IsTransient(err) {
			f.logger.Warn("get events failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
			if f.onRetry != nil {
				f.onRetry()
			}
		}
		return err
	})
	if err != nil {
		return chain.EventsPage{}, &RangeFetchError{From: from, To: to, Attempts: attempts, Err: err}
	}
	return page, nil
}

// FetchRange returns every event in [from, to], following continuation
// tokens until the node reports none.
func (f *Fetcher) FetchRange(ctx context.Context, from, to uint64) ([]model.RawEvent, error) {
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}
	var (
		out   []model.RawEvent
		token string
		seen  = make(map[string]struct{})
	)
	for {
		page, err := f.FetchPage(ctx, from, to, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Events...)
		if page.ContinuationToken == "" {
			return out, nil
		}
		if _, ok := seen[page.ContinuationToken]; ok {
			return nil, &RangeFetchError{From: from, To: to, Attempts: 1,
				Err: fmt.Errorf("continuation token %q repeated", page.ContinuationToken)}
		}
		seen[page.ContinuationToken] = struct{}{}
		token = page.ContinuationToken
	}
}
