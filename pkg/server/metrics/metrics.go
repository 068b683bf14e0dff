// Package metrics defines the server's Prometheus instruments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec // by transport and type
	MessagesDropped  *prometheus.CounterVec // by reason
	StoreWrites      *prometheus.CounterVec // by record class
	StoreWriteErrors prometheus.Counter
	ActiveClients    prometheus.Gauge
	ActiveSessions   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepulse",
		Name:      "messages_received_total",
		Help:      "Messages received on the ingest listeners",
	}, []string{"transport", "type"})

	m.MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepulse",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped before reaching the store",
	}, []string{"reason"})

	m.StoreWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepulse",
		Name:      "store_writes_total",
		Help:      "Records written to the event store",
	}, []string{"class"})

	m.StoreWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "racepulse",
		Name:      "store_write_errors_total",
		Help:      "Failed event store writes",
	})

	m.ActiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "racepulse",
		Name:      "clients_active",
		Help:      "Currently connected producer clients",
	})

	m.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "racepulse",
		Name:      "sessions_active",
		Help:      "Sessions known to the registry",
	})

	m.Registry.MustRegister(
		m.MessagesReceived, m.MessagesDropped,
		m.StoreWrites, m.StoreWriteErrors,
		m.ActiveClients, m.ActiveSessions)
	return m
}
