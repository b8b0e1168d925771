package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for fan-out publishing
type Metrics struct {
	PublishedTotal     *prometheus.CounterVec
	PublishErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers fan-out metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "fanout",
			Name:      "published_total",
			Help:      "Total number of records published",
		}, []string{"event_type"}),
		PublishErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "fanout",
			Name:      "publish_errors_total",
			Help:      "Total number of publishes where at least one publisher failed",
		}, []string{"event_type"}),
	}
}

// RecordPublish records the outcome of one publish
func (m *Metrics) RecordPublish(event EventType, err error) {
	m.PublishedTotal.WithLabelValues(string(event)).Inc()
	if err != nil {
		m.PublishErrorsTotal.WithLabelValues(string(event)).Inc()
	}
}
