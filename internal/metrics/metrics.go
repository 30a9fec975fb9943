// Package metrics exports server activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gonzalop/ftpd/server"
)

// Collector implements server.MetricsCollector on a Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	connections     *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	authentications *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
	transferTime    *prometheus.HistogramVec
	sessionsActive  prometheus.Gauge
	sessionsQueued  prometheus.Gauge
}

var _ server.MetricsCollector = (*Collector)(nil)

// New registers the ftpd metrics, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftpd_connections_total",
			Help: "Control connections by admission result",
		}, []string{"result", "reason"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftpd_commands_total",
			Help: "Dispatched commands by name and outcome",
		}, []string{"command", "status"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ftpd_command_duration_seconds",
			Help:    "Time spent handling a command, including its transfer",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"command"}),
		authentications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftpd_authentications_total",
			Help: "Login decisions by result",
		}, []string{"result"}),
		transferBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftpd_transfer_bytes_total",
			Help: "Payload bytes moved over data connections",
		}, []string{"operation"}),
		transferTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ftpd_transfer_duration_seconds",
			Help:    "Duration of completed transfers",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "ftpd_sessions_active",
			Help: "Sessions currently running",
		}),
		sessionsQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "ftpd_sessions_queued",
			Help: "Sessions accepted and waiting to start",
		}),
	}
}

// Registry returns the registry backing c.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.commands.WithLabelValues(cmd, status(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transferTime.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordConnection(accepted bool, reason string) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	c.connections.WithLabelValues(result, reason).Inc()
}

// RecordAuthentication counts by result only; user names would give the
// metric unbounded cardinality.
func (c *Collector) RecordAuthentication(success bool, _ string) {
	c.authentications.WithLabelValues(status(success)).Inc()
}

func (c *Collector) RecordSessions(active, queued int) {
	c.sessionsActive.Set(float64(active))
	c.sessionsQueued.Set(float64(queued))
}
