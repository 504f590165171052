package liquidation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingScope/internal/chain"
	"lendingScope/internal/felt"
	"lendingScope/internal/metrics"
	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]error
}

func (f *fakeExecutor) Execute(ctx context.Context, contract, entryPoint string, calldata []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, calldata)
	if err := f.fail[calldata[0]]; err != nil {
		return "", err
	}
	return "0xtx" + calldata[0], nil
}

type fakeWaiter struct {
	block    map[string]bool
	reverted map[string]bool
}

func (f *fakeWaiter) WaitForTransaction(ctx context.Context, txHash string, every time.Duration) (chain.Receipt, error) {
	if f.block[txHash] {
		<-ctx.Done()
		return chain.Receipt{}, ctx.Err()
	}
	if f.reverted[txHash] {
		return chain.Receipt{}, &chain.RevertedError{TxHash: txHash, Reason: "not overdue"}
	}
	return chain.Receipt{TransactionHash: txHash, FinalityStatus: "ACCEPTED_ON_L2"}, nil
}

func id(v uint64) string {
	return felt.Hex(*uint256.NewInt(v))
}

func seed(t *testing.T, rows ...model.Agreement) *storage.Memory {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		for _, a := range rows {
			if err := tx.PutAgreement(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))
	return store
}

func filled(v, signedAt, duration uint64) model.Agreement {
	return model.Agreement{ID: id(v), Status: model.AgreementFilled, SignedAt: signedAt, Terms: model.Terms{Duration: duration}}
}

func clock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestTickSelectsOverdue(t *testing.T) {
	store := seed(t,
		filled(1, 1000, 500), // due 1500 < 1600
		filled(2, 1000, 700), // due 1700
		model.Agreement{ID: id(3), Status: model.AgreementPartial, SignedAt: 100, Terms: model.Terms{Duration: 1}},
		model.Agreement{ID: id(4), Status: model.AgreementCancelled, SignedAt: 100, Terms: model.Terms{Duration: 1}},
	)
	exec := &fakeExecutor{}
	s := New(Config{Contract: "0xc"}, store, exec, &fakeWaiter{}, nil, WithClock(clock(1600)))

	results, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id(1), results[0].ID)
	assert.Equal(t, StatusConfirmed, results[0].Status)
	assert.Equal(t, [][]string{{"0x1", "0x0"}}, exec.calls)
	assert.Equal(t, StateIdle, s.State())
}

func TestTickIsolatesFailures(t *testing.T) {
	store := seed(t, filled(1, 10, 10), filled(2, 11, 10), filled(3, 12, 10), filled(4, 13, 10))
	exec := &fakeExecutor{fail: map[string]error{"0x1": errors.New("nonce too low")}}
	waiter := &fakeWaiter{
		block:    map[string]bool{"0xtx0x3": true},
		reverted: map[string]bool{"0xtx0x2": true},
	}
	reg := prometheus.NewRegistry()
	s := New(Config{Contract: "0xc", TxTimeout: 20 * time.Millisecond}, store, exec, waiter, nil,
		WithClock(clock(1000)), WithMetrics(metrics.NewLiquidation(reg)))

	results, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	got := make(map[string]Status, len(results))
	for _, r := range results {
		got[r.ID] = r.Status
	}
	assert.Equal(t, StatusFailed, got[id(1)])
	assert.Equal(t, StatusReverted, got[id(2)])
	assert.Equal(t, StatusTimeout, got[id(3)])
	assert.Equal(t, StatusConfirmed, got[id(4)])
}

func TestTickRespectsBatchSize(t *testing.T) {
	store := seed(t, filled(1, 30, 1), filled(2, 10, 1), filled(3, 20, 1))
	exec := &fakeExecutor{}
	s := New(Config{Contract: "0xc", BatchSize: 2}, store, exec, &fakeWaiter{}, nil, WithClock(clock(1000)))

	results, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, id(2), results[0].ID, "earliest due first")
	assert.Equal(t, id(3), results[1].ID)
}

func TestTickSkipsSettledUntilIndexed(t *testing.T) {
	store := seed(t, filled(1, 10, 10))
	exec := &fakeExecutor{}
	s := New(Config{Contract: "0xc"}, store, exec, &fakeWaiter{}, nil, WithClock(clock(1000)))
	ctx := context.Background()

	_, err := s.Tick(ctx)
	require.NoError(t, err)
	results, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, exec.calls, 1)

	// Once the indexer records the liquidation the id leaves the set.
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		a := filled(1, 10, 10)
		a.Status = model.AgreementLiquidated
		return tx.PutAgreement(ctx, a)
	}))
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.settled)
}

func TestTickDryRun(t *testing.T) {
	store := seed(t, filled(1, 10, 10))
	exec := &fakeExecutor{}
	s := New(Config{Contract: "0xc", DryRun: true}, store, exec, &fakeWaiter{}, nil, WithClock(clock(1000)))

	results, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusDryRun, results[0].Status)
	assert.Empty(t, exec.calls)
}

type failingReader struct {
	storage.Reader
}

func (failingReader) Overdue(ctx context.Context, now uint64, limit int) ([]model.Agreement, error) {
	return nil, errors.New("connection refused")
}

func TestRunSurvivesQueryFailure(t *testing.T) {
	s := New(Config{Contract: "0xc", Interval: 5 * time.Millisecond}, failingReader{}, &fakeExecutor{}, &fakeWaiter{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaults(t *testing.T) {
	s := New(Config{}, nil, nil, nil, nil)
	assert.Equal(t, 2*time.Minute, s.cfg.Interval)
	assert.Equal(t, 50, s.cfg.BatchSize)
	assert.Equal(t, 120*time.Second, s.cfg.TxTimeout)
	assert.Equal(t, 15*time.Second, s.cfg.QueryTimeout)
	assert.Equal(t, "dispatching", StateDispatching.String())
}

// stalledReader blocks the overdue query until its context ends.
type stalledReader struct {
	storage.Reader
}

func (stalledReader) Overdue(ctx context.Context, now uint64, limit int) ([]model.Agreement, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTickBoundsOverdueQuery(t *testing.T) {
	s := New(Config{Contract: "0xc", QueryTimeout: 20 * time.Millisecond}, stalledReader{}, &fakeExecutor{}, &fakeWaiter{}, nil)

	start := time.Now()
	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateIdle, s.State())
}
