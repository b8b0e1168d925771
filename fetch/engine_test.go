package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/explorer-indexer/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, chain ChainReader, cfg *Config) (*Engine, *testutil.RecordingPublisher) {
	t.Helper()

	pub := testutil.NewRecordingPublisher()
	engine, err := NewEngine(chain, newTestStore(t), pub, cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(engine.Stop)
	return engine, pub
}

func TestBackfillEndToEnd(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(100, 104, 2)

	engine, pub := newTestEngine(t, chain, nil)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	engine.SetMetrics(metrics)

	result, err := engine.BackfillFrom(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.From)
	assert.Equal(t, uint64(104), result.To)
	assert.Equal(t, 5, result.Indexed)
	assert.Zero(t, result.Failed)

	stats, err := engine.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.BlockCount)
	assert.Equal(t, uint64(10), stats.TransactionCount)

	for h := uint64(100); h <= 104; h++ {
		assert.Equal(t, 1, pub.BlockPublishes(h), "height %d", h)
		for i := 0; i < 2; i++ {
			assert.Equal(t, 1, pub.TransactionPublishes(testutil.TxHash(h, i)))
		}
	}
	assert.Len(t, pub.Blocks(), 5)
	assert.Len(t, pub.Transactions(), 10)

	assert.Equal(t, 5.0, promtest.ToFloat64(metrics.BlocksTotal.WithLabelValues("indexed")))
	assert.Equal(t, 104.0, promtest.ToFloat64(metrics.IndexedHeight))

	status := engine.Status()
	assert.False(t, status.Running)
	assert.Equal(t, uint64(104), status.LatestTip)
	assert.Equal(t, uint64(104), status.LastIndexed)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, 5, status.LastResult.Indexed)
}

func TestBackfillResolvesStart(t *testing.T) {
	tests := []struct {
		name     string
		tip      uint64
		stored   []uint64
		window   uint64
		wantFrom uint64
	}{
		{name: "empty store bootstraps window", tip: 25, window: 10, wantFrom: 15},
		{name: "empty store short chain starts at genesis", tip: 5, window: 10, wantFrom: 0},
		{name: "continues after stored tip", tip: 25, stored: []uint64{20, 21, 22}, window: 10, wantFrom: 23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			chain := testutil.NewFakeChain()
			chain.Extend(0, tt.tip, 0)

			cfg := DefaultConfig()
			cfg.BootstrapWindow = tt.window
			engine, _ := newTestEngine(t, chain, cfg)
			for _, h := range tt.stored {
				_, err := engine.Normalizer().Normalize(ctx, h)
				require.NoError(t, err)
			}

			result, err := engine.Backfill(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, result.From)
			assert.Equal(t, tt.tip, result.To)
			assert.Equal(t, int(tt.tip-tt.wantFrom+1), result.Indexed)
		})
	}
}

func TestBackfillNothingToDo(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(0, 3, 0)

	engine, pub := newTestEngine(t, chain, nil)
	_, err := engine.BackfillFrom(ctx, 0)
	require.NoError(t, err)

	result, err := engine.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), result.From)
	assert.Zero(t, result.Indexed)
	assert.Len(t, pub.Blocks(), 4)
}

func TestBackfillAbsorbsBlockFailures(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(100, 104, 1)
	chain.SetBlockError(102, errors.New("timeout"))

	engine, _ := newTestEngine(t, chain, nil)

	result, err := engine.BackfillFrom(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Indexed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []uint64{102}, result.FailedHeights)

	has, err := engine.store.HasBlock(ctx, 103)
	require.NoError(t, err)
	assert.True(t, has, "a sibling in the same batch is still stored")
}

func TestBackfillMutualExclusion(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(0, 2, 1)
	chain.SetReceiptDelay(testutil.TxHash(1, 0), 200*time.Millisecond)

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	engine, pub := newTestEngine(t, chain, cfg)

	var (
		wg    sync.WaitGroup
		first *SyncResult
		err   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, err = engine.BackfillFrom(ctx, 0)
	}()

	require.Eventually(t, func() bool { return engine.Status().Running }, time.Second, time.Millisecond)

	second, secondErr := engine.BackfillFrom(ctx, 0)
	assert.ErrorIs(t, secondErr, ErrSyncInProgress)
	assert.Nil(t, second)

	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, first.Indexed)
	assert.False(t, engine.Status().Running, "flag is released")

	for h := uint64(0); h <= 2; h++ {
		assert.Equal(t, 1, pub.BlockPublishes(h))
		assert.Equal(t, 1, chain.BlockCalls(h))
	}

	third, err := engine.BackfillFrom(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, third.Skipped)
}

func TestBackfillReleasesFlagOnSourceFailure(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(0, 1, 0)
	chain.SetTipError(errors.New("dial tcp: connection refused"))

	engine, _ := newTestEngine(t, chain, nil)

	_, err := engine.Backfill(ctx)
	require.Error(t, err)
	assert.False(t, engine.Status().Running)
	assert.Contains(t, engine.Status().LastSyncError, "connection refused")

	chain.SetTipError(nil)
	result, err := engine.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
}

func TestBackfillStopsBetweenBatches(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.Extend(0, 9, 1)
	for h := uint64(0); h <= 9; h++ {
		chain.SetReceiptDelay(testutil.TxHash(h, 0), 50*time.Millisecond)
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	engine, _ := newTestEngine(t, chain, cfg)

	start := uint64(0)
	require.NoError(t, engine.BackfillAsync(&start))
	require.Eventually(t, func() bool { return engine.Status().Running }, time.Second, time.Millisecond)

	engine.Stop()
	assert.False(t, engine.Status().Running)

	ctx := context.Background()
	stats, err := engine.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Less(t, stats.BlockCount, uint64(10), "no new batch starts after Stop")
	assert.Equal(t, stats.BlockCount, stats.TransactionCount, "started blocks are complete")
	assert.Zero(t, stats.BlockCount%2, "batches are never cut short")

	assert.Error(t, engine.BackfillAsync(nil), "stopped engine rejects new work")
}

func TestBackfillAsyncHoldsFlagBeforeMonitor(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.Extend(0, 10, 1)
	chain.SetReceiptDelay(testutil.TxHash(0, 0), 50*time.Millisecond)

	cfg := DefaultConfig()
	cfg.MonitorInterval = 10 * time.Millisecond
	engine, _ := newTestEngine(t, chain, cfg)

	ctx := context.Background()
	start := uint64(0)
	require.NoError(t, engine.BackfillAsync(&start))
	assert.True(t, engine.Status().Running, "flag is held once the call returns")
	assert.ErrorIs(t, engine.BackfillAsync(nil), ErrSyncInProgress)

	require.NoError(t, engine.Start(ctx))

	require.Eventually(t, func() bool {
		has, _ := engine.store.HasBlock(ctx, 10)
		return has
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !engine.Status().Running }, 2*time.Second, 5*time.Millisecond)

	for h := uint64(0); h <= 10; h++ {
		has, err := engine.store.HasBlock(ctx, h)
		require.NoError(t, err)
		assert.True(t, has, "height %d", h)
	}
}

func TestBackfillAsyncReleasesFlagWhenStopped(t *testing.T) {
	chain := testutil.NewFakeChain()
	engine, _ := newTestEngine(t, chain, nil)
	engine.Stop()

	assert.Error(t, engine.BackfillAsync(nil))
	assert.False(t, engine.Status().Running)
}

func TestMonitorFollowsTip(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.Extend(0, 10, 1)

	cfg := DefaultConfig()
	cfg.MonitorInterval = 20 * time.Millisecond
	engine, pub := newTestEngine(t, chain, cfg)

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	assert.Error(t, engine.Start(ctx), "monitor already started")

	require.Eventually(t, func() bool {
		has, _ := engine.store.HasBlock(ctx, 10)
		return has
	}, 2*time.Second, 5*time.Millisecond)

	has, err := engine.store.HasBlock(ctx, 9)
	require.NoError(t, err)
	assert.False(t, has, "an empty store starts from the tip")

	chain.Extend(11, 13, 1)
	require.Eventually(t, func() bool {
		has, _ := engine.store.HasBlock(ctx, 13)
		return has
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		stats := pub.Stats()
		return len(stats) > 0 && stats[len(stats)-1].LatestBlock == 13
	}, 2*time.Second, 5*time.Millisecond)
	last := pub.Stats()[len(pub.Stats())-1]
	assert.Equal(t, uint64(4), last.TotalBlocks)
	assert.Equal(t, uint64(4), last.TotalTransactions)
	assert.InDelta(t, 2.0, last.AverageBlockTime, 0.001)

	engine.Stop()
	assert.False(t, engine.Status().Monitoring)
	for h := uint64(10); h <= 13; h++ {
		assert.Equal(t, 1, pub.BlockPublishes(h))
	}
}

func TestMonitorReactsToTipNotification(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.Extend(0, 5, 0)

	cfg := DefaultConfig()
	cfg.MonitorInterval = time.Hour
	engine, _ := newTestEngine(t, chain, cfg)

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	require.Eventually(t, func() bool {
		has, _ := engine.store.HasBlock(ctx, 5)
		return has
	}, 2*time.Second, 5*time.Millisecond)

	chain.Extend(6, 8, 0)
	engine.NotifyTip(8)
	engine.NotifyTip(8)

	require.Eventually(t, func() bool {
		has, _ := engine.store.HasBlock(ctx, 8)
		return has
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitorStopsWithContext(t *testing.T) {
	chain := testutil.NewFakeChain()
	cfg := DefaultConfig()
	cfg.MonitorInterval = 10 * time.Millisecond
	engine, _ := newTestEngine(t, chain, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))
	require.Eventually(t, func() bool { return engine.Status().Monitoring }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !engine.Status().Monitoring }, time.Second, time.Millisecond)
}

func TestNetworkStatsEmptyStore(t *testing.T) {
	engine, _ := newTestEngine(t, testutil.NewFakeChain(), nil)

	stats, err := engine.NetworkStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalBlocks)
	assert.Zero(t, stats.AverageBlockTime)
}

func TestEngineConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: true},
		{name: "batch too wide", mutate: func(c *Config) { c.BatchSize = 1000 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.TxWorkers = 0 }, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.MonitorInterval = 0 }, wantErr: true},
		{name: "stats window", mutate: func(c *Config) { c.StatsWindow = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewEngine(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
