// Package metrics holds the engine's Prometheus collectors. Label sets are
// bounded: task kind, state and result code, proxy outcome, RPC method and
// status code. Per-proxy and per-account labels are deliberately avoided
// except for the proxy score gauge, whose cardinality is the size of the
// proxy pool.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	running       prometheus.Gauge
	proxyEvents   *prometheus.CounterVec
	proxyScore    *prometheus.GaugeVec
	floodWaits    prometheus.Counter
	compromised   *prometheus.CounterVec
	fetchedItems  prometheus.Counter
	backups       *prometheus.CounterVec
	scratchPruned prometheus.Counter
	rpcs          *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgfleet_tasks_total",
			Help: "Task executions by kind, resulting state and result code.",
		}, []string{"kind", "state", "code"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tgfleet_task_duration_seconds",
			Help:    "Duration of one task execution.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tgfleet_tasks_running",
			Help: "Tasks currently executing.",
		}),
		proxyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgfleet_proxy_releases_total",
			Help: "Proxy releases by outcome.",
		}, []string{"outcome"}),
		proxyScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tgfleet_proxy_health_score",
			Help: "Current health score per proxy.",
		}, []string{"proxy"}),
		floodWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgfleet_flood_waits_total",
			Help: "Platform flood-wait responses.",
		}),
		compromised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgfleet_accounts_compromised_total",
			Help: "Accounts moved to a terminal state.",
		}, []string{"status"}),
		fetchedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgfleet_fetched_items_total",
			Help: "Items emitted by fetch tasks.",
		}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgfleet_backups_total",
			Help: "Backup runs by result.",
		}, []string{"result"}),
		scratchPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgfleet_scratch_files_removed_total",
			Help: "Scratch files removed by the cleanup job.",
		}),
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgfleet_control_rpcs_total",
			Help: "Control API calls by method and status code.",
		}, []string{"method", "code"}),
	}
	m.registry.MustRegister(
		m.tasks, m.taskDuration, m.running, m.proxyEvents, m.proxyScore,
		m.floodWaits, m.compromised, m.fetchedItems, m.backups, m.scratchPruned, m.rpcs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

func (m *Metrics) TaskFinished(kind, state, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.tasks.WithLabelValues(kind, state, code).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ProxyReleased(id, outcome string, score int) {
	if m == nil {
		return
	}
	m.proxyEvents.WithLabelValues(outcome).Inc()
	m.proxyScore.WithLabelValues(id).Set(float64(score))
}

func (m *Metrics) ProxyRetired(id string) {
	if m == nil {
		return
	}
	m.proxyScore.DeleteLabelValues(id)
}

func (m *Metrics) FloodWait() {
	if m == nil {
		return
	}
	m.floodWaits.Inc()
}

func (m *Metrics) AccountCompromised(status string) {
	if m == nil {
		return
	}
	m.compromised.WithLabelValues(status).Inc()
}

func (m *Metrics) ItemsFetched(n int) {
	if m == nil {
		return
	}
	m.fetchedItems.Add(float64(n))
}

func (m *Metrics) Backup(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.backups.WithLabelValues(result).Inc()
}

func (m *Metrics) ScratchRemoved(n int) {
	if m == nil {
		return
	}
	m.scratchPruned.Add(float64(n))
}

func (m *Metrics) RPC(method, code string) {
	if m == nil {
		return
	}
	m.rpcs.WithLabelValues(method, code).Inc()
}
