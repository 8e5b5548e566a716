// Package metrics exposes engine activity as Prometheus collectors.
//
// Every method is safe on a nil *Metrics, so engines can record
// unconditionally and callers disable metrics by passing nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metric namespace (default: "dragonet").
	Namespace string

	// Subsystem is the metric subsystem (default: "").
	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registry receives the collectors.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures Metrics.
type Option func(*Config)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metric subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets labels added to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "dragonet",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the engine collectors.
type Metrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed *prometheus.CounterVec
	activeConnections prometheus.Gauge
	packetsReceived   prometheus.Counter
	packetsSent       prometheus.Counter
	bytesRead         prometheus.Counter
	bytesWritten      prometheus.Counter
	connectionErrors  *prometheus.CounterVec
}

// New creates and registers the collectors.
//
// Parameters:
//   - opts: Options overriding the namespace, labels or registerer
//
// Returns:
//   - The registered Metrics
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		connectionsOpened: counter("connections_opened_total", "Total number of connections accepted or established"),
		connectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_closed_total",
			Help:        "Total number of connections closed by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of live connections",
			ConstLabels: config.ConstLabels,
		}),
		packetsReceived: counter("packets_received_total", "Total number of packets decoded and dispatched"),
		packetsSent:     counter("packets_sent_total", "Total number of packets fully written"),
		bytesRead:       counter("bytes_read_total", "Total number of bytes read from sockets"),
		bytesWritten:    counter("bytes_written_total", "Total number of bytes written to sockets"),
		connectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_errors_total",
			Help:        "Total connection-scoped errors by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
	}
}

// ConnectionOpened records a new live connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}

	m.connectionsOpened.Inc()
	m.activeConnections.Inc()
}

// ConnectionClosed records the end of a live connection.
//
// Parameters:
//   - reason: Short close reason such as "peer_closed" or "protocol"
func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}

	m.connectionsClosed.WithLabelValues(reason).Inc()
	m.activeConnections.Dec()
}

// ConnectionError records a connection-scoped failure.
func (m *Metrics) ConnectionError(kind string) {
	if m == nil {
		return
	}

	m.connectionErrors.WithLabelValues(kind).Inc()
}

// Received records bytes read and packets dispatched.
func (m *Metrics) Received(bytes, packets int) {
	if m == nil {
		return
	}

	m.bytesRead.Add(float64(bytes))
	m.packetsReceived.Add(float64(packets))
}

// Sent records bytes written and packets completed.
func (m *Metrics) Sent(bytes, packets int) {
	if m == nil {
		return
	}

	m.bytesWritten.Add(float64(bytes))
	m.packetsSent.Add(float64(packets))
}
