package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the sync pipeline.
// A nil *Metrics records nothing.
type Metrics struct {
	BlocksTotal                *prometheus.CounterVec
	TransactionsIndexedTotal   prometheus.Counter
	TransactionsOmittedTotal   prometheus.Counter
	PartialNormalizationsTotal prometheus.Counter
	BatchDuration              prometheus.Histogram
	PassesTotal                *prometheus.CounterVec
	ChainTipHeight             prometheus.Gauge
	IndexedHeight              prometheus.Gauge
	SyncRunning                prometheus.Gauge
}

// NewMetrics creates and registers sync metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "blocks_total",
			Help:      "Blocks processed by outcome (indexed, skipped, failed)",
		}, []string{"outcome"}),
		TransactionsIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "transactions_indexed_total",
			Help:      "Transactions stored",
		}),
		TransactionsOmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "transactions_omitted_total",
			Help:      "Transactions left out of their block because they could not be stored",
		}),
		PartialNormalizationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "partial_normalizations_total",
			Help:      "Transactions stored with degraded receipt-derived fields",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Time to normalize one batch of heights",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		PassesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Sync passes by trigger and result",
		}, []string{"trigger", "result"}),
		ChainTipHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "chain_tip_height",
			Help:      "Last observed chain tip",
		}),
		IndexedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "indexed_height",
			Help:      "Highest height indexed by this process",
		}),
		SyncRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "sync",
			Name:      "running",
			Help:      "1 while a sync pass holds the engine",
		}),
	}
}

func (m *Metrics) recordBlock(outcome string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordTransaction() {
	if m == nil {
		return
	}
	m.TransactionsIndexedTotal.Inc()
}

func (m *Metrics) recordOmitted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.TransactionsOmittedTotal.Add(float64(n))
}

func (m *Metrics) recordPartial() {
	if m == nil {
		return
	}
	m.PartialNormalizationsTotal.Inc()
}

func (m *Metrics) observeBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) recordPass(trigger, result string) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) setTip(height uint64) {
	if m == nil {
		return
	}
	m.ChainTipHeight.Set(float64(height))
}

func (m *Metrics) setIndexed(height uint64) {
	if m == nil {
		return
	}
	m.IndexedHeight.Set(float64(height))
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.SyncRunning.Set(1)
	} else {
		m.SyncRunning.Set(0)
	}
}
