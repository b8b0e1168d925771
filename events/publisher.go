package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"go.uber.org/zap"
)

// ErrPublisherClosed is returned when publishing after Close/Stop
var ErrPublisherClosed = errors.New("publisher closed")

// Publisher pushes newly stored records to subscribers. Publishing to a
// topic nobody listens on is not an error.
type Publisher interface {
	PublishBlock(ctx context.Context, block *storage.Block) error
	PublishTransaction(ctx context.Context, tx *storage.Transaction) error
	PublishNetworkStats(ctx context.Context, stats *NetworkStats) error
}

// NopPublisher discards everything
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) PublishBlock(context.Context, *storage.Block) error             { return nil }
func (NopPublisher) PublishTransaction(context.Context, *storage.Transaction) error { return nil }
func (NopPublisher) PublishNetworkStats(context.Context, *NetworkStats) error       { return nil }

// OrNop returns p, or a NopPublisher when p is nil
func OrNop(p Publisher) Publisher {
	if p == nil {
		return NopPublisher{}
	}
	return p
}

// sendAll delivers each envelope and joins the failures
func sendAll(ctx context.Context, envs []Envelope, send func(context.Context, Envelope) error) error {
	var errs []error
	for _, env := range envs {
		if err := send(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", env.Topic, err))
		}
	}
	return errors.Join(errs...)
}

// MultiPublisher forwards every publish to each of its publishers.
// A failing publisher does not prevent delivery to the others, and each
// publish is bounded by the publisher timeout.
type MultiPublisher struct {
	mu         sync.RWMutex
	publishers []Publisher
	timeout    time.Duration
	metrics    *Metrics
	logger     *zap.Logger
}

var _ Publisher = (*MultiPublisher)(nil)

// NewMultiPublisher creates a MultiPublisher. Nil publishers are skipped.
func NewMultiPublisher(logger *zap.Logger, publishers ...Publisher) *MultiPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MultiPublisher{logger: logger, timeout: constants.DefaultPublishTimeout}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// SetMetrics enables Prometheus metrics for the publisher
func (m *MultiPublisher) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// SetTimeout bounds each downstream publish. Zero or negative disables
// the bound.
func (m *MultiPublisher) SetTimeout(d time.Duration) {
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

// Add appends a downstream publisher. Nil is ignored.
func (m *MultiPublisher) Add(p Publisher) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.publishers = append(m.publishers, p)
	m.mu.Unlock()
}

// Len returns the number of downstream publishers
func (m *MultiPublisher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishers)
}

func (m *MultiPublisher) each(ctx context.Context, event EventType, fn func(context.Context, Publisher) error) error {
	m.mu.RLock()
	publishers := m.publishers
	timeout := m.timeout
	m.mu.RUnlock()

	var errs []error
	for i, p := range publishers {
		if err := m.publishOne(ctx, timeout, p, fn); err != nil {
			m.logger.Warn("publisher failed",
				zap.String("event", string(event)),
				zap.Int("publisher", i),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if m.metrics != nil {
		m.metrics.RecordPublish(event, err)
	}
	return err
}

func (m *MultiPublisher) publishOne(ctx context.Context, timeout time.Duration, p Publisher, fn func(context.Context, Publisher) error) error {
	if timeout <= 0 {
		return fn(ctx, p)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx, p)
}

// PublishBlock implements Publisher
func (m *MultiPublisher) PublishBlock(ctx context.Context, block *storage.Block) error {
	return m.each(ctx, EventNewBlock, func(ctx context.Context, p Publisher) error {
		return p.PublishBlock(ctx, block)
	})
}

// PublishTransaction implements Publisher
func (m *MultiPublisher) PublishTransaction(ctx context.Context, tx *storage.Transaction) error {
	return m.each(ctx, EventNewTransaction, func(ctx context.Context, p Publisher) error {
		return p.PublishTransaction(ctx, tx)
	})
}

// PublishNetworkStats implements Publisher
func (m *MultiPublisher) PublishNetworkStats(ctx context.Context, stats *NetworkStats) error {
	return m.each(ctx, EventNetworkStats, func(ctx context.Context, p Publisher) error {
		return p.PublishNetworkStats(ctx, stats)
	})
}
