package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingScope/internal/model"
)

func rawAt(block uint64, tx string) model.RawEvent {
	return model.RawEvent{BlockNumber: block, TransactionHash: tx, Keys: []string{"0x1"}}
}

func TestFetchRangeFollowsContinuation(t *testing.T) {
	src := &fakeSource{head: 100}
	for i := 0; i < 7; i++ {
		src.events = append(src.events, rawAt(uint64(10+i), "0x1"))
	}
	f := NewFetcher(FetchConfig{Contract: "0xc", Selectors: []string{"0x1"}, ChunkSize: 3}, src, nil)

	got, err := f.FetchRange(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Len(t, got, 7)
	assert.Equal(t, 3, src.getEventsCalls())
	assert.Equal(t, [][]string{{"0x1"}}, src.calls[0].Keys)
	assert.Equal(t, "0xc", src.calls[0].Address)
	assert.Equal(t, "3", src.calls[1].ContinuationToken)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	src := &fakeSource{head: 100, failures: 2, events: []model.RawEvent{rawAt(5, "0x1")}}
	f := NewFetcher(FetchConfig{ChunkSize: 10, MaxRetries: 3, RetryBackoff: time.Millisecond}, src, nil)

	got, err := f.FetchRange(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, src.getEventsCalls())
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	src := &fakeSource{head: 100, failures: 10}
	f := NewFetcher(FetchConfig{ChunkSize: 10, MaxRetries: 2, RetryBackoff: time.Millisecond}, src, nil)

	_, err := f.FetchRange(context.Background(), 1, 10)
	var rangeErr *RangeFetchError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, uint64(1), rangeErr.From)
	assert.Equal(t, uint64(10), rangeErr.To)
	assert.Equal(t, 3, rangeErr.Attempts)
}

func TestFetchDoesNotRetryApplicationErrors(t *testing.T) {
	src := &fakeSource{head: 100, fatal: errors.New("invalid continuation token")}
	f := NewFetcher(FetchConfig{ChunkSize: 10, MaxRetries: 5, RetryBackoff: time.Millisecond}, src, nil)

	_, err := f.FetchRange(context.Background(), 1, 10)
	var rangeErr *RangeFetchError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 1, rangeErr.Attempts)
	assert.Equal(t, 1, src.getEventsCalls())
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := withRetry(ctx, 5, 50*time.Millisecond, nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestGroupByBlockOrdersWithinBlock(t *testing.T) {
	idx := func(v uint64) *uint64 { return &v }
	events := []model.RawEvent{
		{BlockNumber: 8, TransactionHash: "0xb", TxIndex: idx(1), EventIndex: idx(0)},
		{BlockNumber: 7, TransactionHash: "0xz"},
		{BlockNumber: 8, TransactionHash: "0xa", TxIndex: idx(0), EventIndex: idx(2)},
		{BlockNumber: 8, TransactionHash: "0xa", TxIndex: idx(0), EventIndex: idx(1)},
	}
	blocks := groupByBlock(events)
	require.Len(t, blocks, 2)
	assert.Equal(t, uint64(7), blocks[0].Number)
	assert.Equal(t, uint64(8), blocks[1].Number)

	b := blocks[1].Events
	require.Len(t, b, 3)
	assert.Equal(t, uint64(1), *b[0].EventIndex)
	assert.Equal(t, uint64(2), *b[1].EventIndex)
	assert.Equal(t, "0xb", b[2].TransactionHash)
	for i, ev := range b {
		assert.Equal(t, uint32(i), ev.LogIndex)
	}
}
