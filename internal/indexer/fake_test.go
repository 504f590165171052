package indexer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"lendingScope/internal/chain"
	"lendingScope/internal/model"
)

// fakeSource serves events from memory, paginated by chunk size.
type fakeSource struct {
	mu       sync.Mutex
	head     uint64
	events   []model.RawEvent
	failures int // transient failures to return before serving GetEvents
	fatal    error
	calls    []chain.EventFilter
}

func (f *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return 1_000_000 + number, nil
}

func (f *fakeSource) GetEvents(ctx context.Context, filter chain.EventFilter) (chain.EventsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filter)
	if f.fatal != nil {
		return chain.EventsPage{}, f.fatal
	}
	if f.failures > 0 {
		f.failures--
		return chain.EventsPage{}, &chain.TransportError{Method: "starknet_getEvents", Err: fmt.Errorf("503")}
	}

	matched := make([]model.RawEvent, 0)
	for _, ev := range f.events {
		if ev.BlockNumber >= filter.FromBlock && ev.BlockNumber <= filter.ToBlock {
			matched = append(matched, ev)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].BlockNumber < matched[j].BlockNumber })

	offset := 0
	if filter.ContinuationToken != "" {
		n, err := strconv.Atoi(filter.ContinuationToken)
		if err != nil {
			return chain.EventsPage{}, err
		}
		offset = n
	}
	end := offset + filter.ChunkSize
	page := chain.EventsPage{}
	if end < len(matched) {
		page.ContinuationToken = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	page.Events = append(page.Events, matched[offset:end]...)
	return page, nil
}

func (f *fakeSource) getEventsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
