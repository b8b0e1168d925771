package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the hub. A nil *Metrics records
// nothing.
type Metrics struct {
	Clients                 prometheus.Gauge
	MessagesDelivered       prometheus.Counter
	SlowClientsDisconnected prometheus.Counter
}

// NewMetrics creates and registers hub metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Current number of connected clients",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "websocket",
			Name:      "messages_delivered_total",
			Help:      "Messages queued to client connections",
		}),
		SlowClientsDisconnected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "websocket",
			Name:      "slow_clients_disconnected_total",
			Help:      "Clients disconnected because their send buffer was full",
		}),
	}
}

func (m *Metrics) setClients(n int) {
	if m == nil {
		return
	}
	m.Clients.Set(float64(n))
}

func (m *Metrics) delivered(n int) {
	if m == nil {
		return
	}
	m.MessagesDelivered.Add(float64(n))
}

func (m *Metrics) slowClient() {
	if m == nil {
		return
	}
	m.SlowClientsDisconnected.Inc()
}
