package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/explorer-indexer/events"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"go.uber.org/zap"
)

// Config holds Sync Engine configuration
type Config struct {
	// BatchSize is the number of heights normalized concurrently
	BatchSize int

	// TxWorkers bounds concurrent transaction normalization within a block
	TxWorkers int

	// BootstrapWindow is how far behind the tip a backfill into an empty
	// store starts
	BootstrapWindow uint64

	// MonitorInterval is the tip check period
	MonitorInterval time.Duration

	// StatsWindow is the number of recent blocks used for the average
	// block time
	StatsWindow int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:       constants.DefaultBatchSize,
		TxWorkers:       constants.DefaultTxWorkers,
		BootstrapWindow: constants.DefaultBootstrapWindow,
		MonitorInterval: constants.DefaultMonitorInterval,
		StatsWindow:     constants.DefaultStatsWindow,
	}
}

// Validate validates the engine configuration
func (c *Config) Validate() error {
	if c.BatchSize <= 0 || c.BatchSize > constants.MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d", constants.MaxBatchSize)
	}
	if c.TxWorkers <= 0 {
		return fmt.Errorf("tx workers must be positive")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.StatsWindow < 2 {
		return fmt.Errorf("stats window must be at least 2")
	}
	return nil
}

// SyncResult summarises one sync pass over [From, To]
type SyncResult struct {
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
	Indexed int    `json:"indexed"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	// FailedHeights lists heights left for a later pass
	FailedHeights []uint64      `json:"failedHeights,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Status is a snapshot of the engine state
type Status struct {
	Running       bool        `json:"running"`
	Monitoring    bool        `json:"monitoring"`
	LatestTip     uint64      `json:"latestTip"`
	LastIndexed   uint64      `json:"lastIndexedHeight"`
	LastResult    *SyncResult `json:"lastResult,omitempty"`
	LastSyncError string      `json:"lastSyncError,omitempty"`
}

// Engine drives backfill and tip-following. At most one sync pass runs at
// a time; the flag is acquired before any fetch and released on every
// return path.
type Engine struct {
	reader    ChainReader
	store     storage.Storage
	publisher events.Publisher
	blocks    *BlockNormalizer
	config    *Config
	metrics   *Metrics
	logger    *zap.Logger

	running     atomic.Bool
	latestTip   atomic.Uint64
	lastIndexed atomic.Uint64

	// tips carries tip notifications from a push feed
	tips chan uint64

	// lifecycle
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	monitoring    bool
	stopped       bool
	wg            sync.WaitGroup
	lastResult    *SyncResult
	lastSyncError error
}

// NewEngine creates a Sync Engine. A nil publisher disables publishing.
func NewEngine(reader ChainReader, store storage.Storage, publisher events.Publisher, cfg *Config, log *zap.Logger) (*Engine, error) {
	if reader == nil {
		return nil, fmt.Errorf("chain reader cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	publisher = events.OrNop(publisher)

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reader:    reader,
		store:     store,
		publisher: publisher,
		blocks:    NewBlockNormalizer(reader, store, publisher, cfg.TxWorkers, log),
		config:    cfg,
		logger:    log,
		tips:      make(chan uint64, 1),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetMetrics enables Prometheus metrics
func (e *Engine) SetMetrics(m *Metrics) {
	e.metrics = m
	e.blocks.SetMetrics(m)
}

// SetTokenResolver replaces the token metadata resolver
func (e *Engine) SetTokenResolver(r TokenMetadataResolver) {
	e.blocks.Transactions().SetTokenResolver(r)
}

// Normalizer returns the block normalizer
func (e *Engine) Normalizer() *BlockNormalizer {
	return e.blocks
}

// Backfill indexes from one past the highest stored height, or from the
// bootstrap window behind the tip if the store is empty, up to the tip.
func (e *Engine) Backfill(ctx context.Context) (*SyncResult, error) {
	return e.backfill(ctx, nil, "backfill")
}

// BackfillFrom indexes [start, tip]. It returns ErrSyncInProgress without
// doing any work if another pass is running.
func (e *Engine) BackfillFrom(ctx context.Context, start uint64) (*SyncResult, error) {
	return e.backfill(ctx, &start, "backfill")
}

// BackfillAsync runs a backfill in the background, tracked by Stop.
// A nil start resolves the start height from the store. The running flag
// is taken before returning, so a nil error means the pass will run.
func (e *Engine) BackfillAsync(start *uint64) error {
	if !e.acquire() {
		return ErrSyncInProgress
	}
	ok := e.spawn(func(ctx context.Context) {
		defer e.release()

		result, err := e.run(ctx, start, "backfill")
		if err != nil {
			e.logger.Error("background backfill failed", zap.Error(err))
			return
		}
		e.logger.Info("background backfill finished",
			zap.Uint64("from", result.From),
			zap.Uint64("to", result.To),
			zap.Int("indexed", result.Indexed),
			zap.Int("failed", result.Failed),
		)
	})
	if !ok {
		e.release()
		return fmt.Errorf("engine stopped")
	}
	return nil
}

func (e *Engine) backfill(ctx context.Context, start *uint64, trigger string) (*SyncResult, error) {
	if !e.acquire() {
		return nil, ErrSyncInProgress
	}
	defer e.release()
	return e.run(ctx, start, trigger)
}

func (e *Engine) acquire() bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	e.metrics.setRunning(true)
	return true
}

func (e *Engine) release() {
	e.metrics.setRunning(false)
	e.running.Store(false)
}

// run executes one pass and records its outcome. The caller holds the
// running flag.
func (e *Engine) run(ctx context.Context, start *uint64, trigger string) (*SyncResult, error) {
	result, err := e.sync(ctx, start)

	e.mu.Lock()
	if result != nil {
		e.lastResult = result
	}
	e.lastSyncError = err
	e.mu.Unlock()

	if err != nil {
		e.metrics.recordPass(trigger, "error")
	} else {
		e.metrics.recordPass(trigger, "ok")
	}
	return result, err
}

// sync runs one pass. The caller holds the running flag.
func (e *Engine) sync(ctx context.Context, start *uint64) (*SyncResult, error) {
	tip, err := e.reader.LatestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chain tip: %w", err)
	}
	e.latestTip.Store(tip)
	e.metrics.setTip(tip)

	from, err := e.resolveStart(ctx, start, tip)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{From: from, To: tip}
	if from > tip {
		return result, nil
	}

	began := time.Now()
	defer func() { result.Duration = time.Since(began) }()

	e.logger.Info("sync pass started",
		zap.Uint64("from", from),
		zap.Uint64("to", tip),
		zap.Uint64("total", tip-from+1),
	)

	// a started batch always runs to completion
	work := context.WithoutCancel(ctx)
	batch := uint64(e.config.BatchSize)

	for batchStart := from; batchStart <= tip; batchStart += batch {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("sync interrupted before height %d: %w", batchStart, err)
		}

		batchEnd := batchStart + batch - 1
		if batchEnd > tip || batchEnd < batchStart {
			batchEnd = tip
		}
		e.runBatch(work, batchStart, batchEnd, result)

		if batchEnd == tip {
			break
		}
	}

	e.logger.Info("sync pass finished",
		zap.Uint64("from", from),
		zap.Uint64("to", tip),
		zap.Int("indexed", result.Indexed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (e *Engine) resolveStart(ctx context.Context, start *uint64, tip uint64) (uint64, error) {
	if start != nil {
		return *start, nil
	}

	latest, err := e.store.GetLatestHeight(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		if tip < e.config.BootstrapWindow {
			return 0, nil
		}
		return tip - e.config.BootstrapWindow, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest stored height: %w", err)
	}
	return latest + 1, nil
}

// runBatch normalizes [from, to] concurrently and waits for all heights
func (e *Engine) runBatch(ctx context.Context, from, to uint64, result *SyncResult) {
	began := time.Now()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for height := from; height <= to; height++ {
		wg.Add(1)
		go func(height uint64) {
			defer wg.Done()

			block, err := e.blocks.Normalize(ctx, height)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrAlreadyIndexed), err == nil && block == nil:
				result.Skipped++
				e.metrics.recordBlock("skipped")
			case err != nil:
				result.Failed++
				result.FailedHeights = append(result.FailedHeights, height)
				e.metrics.recordBlock("failed")
				e.logger.Warn("failed to index block",
					zap.Uint64("height", height),
					zap.Error(err),
				)
			default:
				result.Indexed++
				e.metrics.recordBlock("indexed")
				e.markIndexed(height)
			}
		}(height)

		if height == to {
			break
		}
	}
	wg.Wait()

	e.metrics.observeBatch(time.Since(began))
	e.logger.Debug("batch finished",
		zap.Uint64("batch_start", from),
		zap.Uint64("batch_end", to),
		zap.Duration("duration", time.Since(began)),
	)
}

func (e *Engine) markIndexed(height uint64) {
	for {
		cur := e.lastIndexed.Load()
		if height <= cur {
			return
		}
		if e.lastIndexed.CompareAndSwap(cur, height) {
			e.metrics.setIndexed(height)
			return
		}
	}
}

// spawn runs fn on a tracked goroutine unless the engine is stopped
func (e *Engine) spawn(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
	return true
}

// Start begins following the chain tip. It checks the tip immediately,
// then every MonitorInterval and whenever NotifyTip is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.monitoring {
		e.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	e.monitoring = true
	e.mu.Unlock()

	ok := e.spawn(func(engineCtx context.Context) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(engineCtx, cancel)
		defer stop()
		e.monitor(ctx)
	})
	if !ok {
		e.mu.Lock()
		e.monitoring = false
		e.mu.Unlock()
		return fmt.Errorf("engine stopped")
	}

	e.logger.Info("monitor started", zap.Duration("interval", e.config.MonitorInterval))
	return nil
}

// NotifyTip reports a new chain tip from a push feed. It never blocks; a
// pending notification is replaced.
func (e *Engine) NotifyTip(height uint64) {
	select {
	case e.tips <- height:
	default:
		select {
		case <-e.tips:
		default:
		}
		select {
		case e.tips <- height:
		default:
		}
	}
}

func (e *Engine) monitor(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.monitoring = false
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(e.config.MonitorInterval)
	defer ticker.Stop()

	e.checkTip(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			e.checkTip(ctx)
		case tip := <-e.tips:
			e.onTip(ctx, tip)
		}
	}
}

// checkTip polls the source for the current tip
func (e *Engine) checkTip(ctx context.Context) {
	if e.running.Load() {
		e.logger.Debug("sync in progress, skipping tip check")
		return
	}
	tip, err := e.reader.LatestHeight(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("failed to check chain tip", zap.Error(err))
		}
		return
	}
	e.onTip(ctx, tip)
}

// onTip starts a pass when tip is ahead of the store. An empty store
// starts at the tip itself.
func (e *Engine) onTip(ctx context.Context, tip uint64) {
	e.latestTip.Store(tip)
	e.metrics.setTip(tip)

	var start uint64
	latest, err := e.store.GetLatestHeight(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		start = tip
	case err != nil:
		e.logger.Warn("failed to read latest stored height", zap.Error(err))
		return
	case latest >= tip:
		return
	default:
		start = latest + 1
	}

	result, err := e.backfill(ctx, &start, "monitor")
	switch {
	case errors.Is(err, ErrSyncInProgress):
		e.logger.Debug("sync in progress, skipping tip", zap.Uint64("height", tip))
		return
	case err != nil:
		if ctx.Err() == nil {
			e.logger.Warn("monitor pass failed", zap.Error(err))
		}
	}

	if result != nil && result.Indexed > 0 {
		e.publishStats(context.WithoutCancel(ctx))
	}
}

func (e *Engine) publishStats(ctx context.Context) {
	stats, err := e.NetworkStats(ctx)
	if err != nil {
		e.logger.Warn("failed to compute network stats", zap.Error(err))
		return
	}
	if err := e.publisher.PublishNetworkStats(ctx, stats); err != nil {
		e.logger.Warn("failed to publish network stats", zap.Error(err))
	}
}

// NetworkStats computes the stats snapshot from the store
func (e *Engine) NetworkStats(ctx context.Context) (*events.NetworkStats, error) {
	counts, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	latest, err := e.store.GetLatestHeight(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return &events.NetworkStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest stored height: %w", err)
	}

	stats := &events.NetworkStats{
		LatestBlock:       latest,
		TotalBlocks:       counts.BlockCount,
		TotalTransactions: counts.TransactionCount,
	}

	window := uint64(e.config.StatsWindow - 1)
	from := uint64(0)
	if latest > window {
		from = latest - window
	}
	recent, err := e.store.GetBlocks(ctx, from, latest)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent blocks: %w", err)
	}
	if n := len(recent); n >= 2 {
		first, last := recent[0], recent[n-1]
		if last.Timestamp > first.Timestamp {
			stats.AverageBlockTime = float64(last.Timestamp-first.Timestamp) / float64(last.Height-first.Height)
		}
	}
	return stats, nil
}

// Status returns a snapshot of the engine state
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		Running:     e.running.Load(),
		Monitoring:  e.monitoring,
		LatestTip:   e.latestTip.Load(),
		LastIndexed: e.lastIndexed.Load(),
	}
	if e.lastResult != nil {
		r := *e.lastResult
		status.LastResult = &r
	}
	if e.lastSyncError != nil {
		status.LastSyncError = e.lastSyncError.Error()
	}
	return status
}

// Stop stops the monitor and waits for in-flight passes. A pass finishes
// its current batch and does not start another.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("sync engine stopped")
}
