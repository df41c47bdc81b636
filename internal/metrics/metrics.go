// Package metrics exposes Prometheus metrics for the risk daemon:
//
//	<ns>_snapshots_total{mode}                      permission snapshots built
//	<ns>_decisions_total{allowed,reason}            governor decisions
//	<ns>_exit_verdicts_total{action,reason}         exit verdicts produced
//	<ns>_exit_monitor_seconds                       exit monitor pass duration
//	<ns>_evolution_cycles_total{group,cadence,result}
//	<ns>_evolution_confidence{group}
//	<ns>_parameter_version{group}
//	<ns>_data_unavailable_total{source}
//	<ns>_http_requests_total{route,code}
//
// Every method is safe on a nil *Metrics so components can run without a
// registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	reg *prometheus.Registry

	snapshots       *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	verdicts        *prometheus.CounterVec
	monitorSeconds  prometheus.Histogram
	cycles          *prometheus.CounterVec
	confidence      *prometheus.GaugeVec
	paramVersion    *prometheus.GaugeVec
	dataUnavailable *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New builds and registers the collectors under namespace, together with the
// Go runtime and process collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_total",
			Help: "Permission snapshots built, by risk mode.",
		}, []string{"mode"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decisions_total",
			Help: "Governor decisions, by outcome and primary reason.",
		}, []string{"allowed", "reason"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "exit_verdicts_total",
			Help: "Exit verdicts, by action and reason.",
		}, []string{"action", "reason"}),
		monitorSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "exit_monitor_seconds",
			Help:    "Duration of one exit monitor pass over open positions.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evolution_cycles_total",
			Help: "Evolution cycles, by group, cadence and result.",
		}, []string{"group", "cadence", "result"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "evolution_confidence",
			Help: "Confidence of the latest evolution cycle per group.",
		}, []string{"group"}),
		paramVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "parameter_version",
			Help: "Version of the published parameter set per group.",
		}, []string{"group"}),
		dataUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "data_unavailable_total",
			Help: "Fail-closed outcomes caused by missing or stale inputs.",
		}, []string{"source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP API requests, by route and status code.",
		}, []string{"route", "code"}),
	}
	m.reg.MustRegister(
		m.snapshots, m.decisions, m.verdicts, m.monitorSeconds,
		m.cycles, m.confidence, m.paramVersion, m.dataUnavailable, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Snapshot(mode domain.RiskMode) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) Decision(d domain.GovernorDecision) {
	if m == nil {
		return
	}
	reason := d.PrimaryReason()
	if reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(strconv.FormatBool(d.Allowed), reason).Inc()
}

func (m *Metrics) Verdict(v domain.ExitVerdict) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(string(v.Action), v.Reason).Inc()
}

// MonitorPass records the duration of one exit monitor pass.
func (m *Metrics) MonitorPass(seconds float64) {
	if m == nil {
		return
	}
	m.monitorSeconds.Observe(seconds)
}

// Cycle records a finished evolution cycle and updates the per-group gauges
// when it was applied.
func (m *Metrics) Cycle(out domain.EvolutionCycleOutput) {
	if m == nil {
		return
	}
	result := "applied"
	switch {
	case out.Skipped:
		result = "skipped"
	case !out.Applied:
		result = "shadow"
	}
	m.cycles.WithLabelValues(out.SymbolGroup, string(out.Cadence), result).Inc()
	m.confidence.WithLabelValues(out.SymbolGroup).Set(out.Confidence)
	if out.Applied {
		m.paramVersion.WithLabelValues(out.SymbolGroup).Set(float64(out.Parameters.Version))
	}
}

// CycleFailed records a cycle that errored before producing an output.
func (m *Metrics) CycleFailed(group string, cadence domain.Cadence) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(group, string(cadence), "failed").Inc()
}

func (m *Metrics) DataUnavailable(source string) {
	if m == nil {
		return
	}
	m.dataUnavailable.WithLabelValues(source).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
