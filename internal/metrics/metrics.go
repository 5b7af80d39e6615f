// Package metrics exposes keepalived's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	RunRequests      *prometheus.CounterVec
	TaskStarts       prometheus.Counter
	TaskTerminations prometheus.Counter
	WatchdogArms     prometheus.Counter
	TaskRunning      prometheus.Gauge
	BridgeMessages   *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		RunRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keepalive",
			Name:      "run_requests_total",
			Help:      "RequestRun calls by outcome.",
		}, []string{"outcome"}),
		TaskStarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keepalive",
			Name:      "task_starts_total",
			Help:      "Execution contexts started. A fast-rising value means the task is crash-looping.",
		}),
		TaskTerminations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keepalive",
			Name:      "task_terminations_total",
			Help:      "Execution contexts that reported termination.",
		}),
		WatchdogArms: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keepalive",
			Name:      "watchdog_arms_total",
			Help:      "Times the watchdog alarm was re-armed.",
		}),
		TaskRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "keepalive",
			Name:      "task_running",
			Help:      "1 while the supervisor considers the task running.",
		}),
		BridgeMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "messages_total",
			Help:      "Data messages relayed between foreground clients and the task.",
		}, []string{"direction"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RunRequest counts a RequestRun call.
func (m *Metrics) RunRequest(outcome string) {
	if m == nil {
		return
	}
	m.RunRequests.WithLabelValues(outcome).Inc()
}

// TaskStarted counts a start and flips the running gauge.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TaskStarts.Inc()
	m.TaskRunning.Set(1)
}

// TaskTerminated counts a termination and clears the running gauge.
func (m *Metrics) TaskTerminated() {
	if m == nil {
		return
	}
	m.TaskTerminations.Inc()
	m.TaskRunning.Set(0)
}

// SetRunning sets the running gauge without counting a start or termination.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.TaskRunning.Set(1)
		return
	}
	m.TaskRunning.Set(0)
}

// WatchdogArmed counts a watchdog re-arm.
func (m *Metrics) WatchdogArmed() {
	if m == nil {
		return
	}
	m.WatchdogArms.Inc()
}

// BridgeMessage counts a relayed data message; direction is "to_task" or "to_foreground".
func (m *Metrics) BridgeMessage(direction string) {
	if m == nil {
		return
	}
	m.BridgeMessages.WithLabelValues(direction).Inc()
}
