package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	registryMetricsOnce sync.Once
	registryCollectors  *RegistryMetrics

	fundMetricsOnce sync.Once
	fundCollectors  *FundMetrics

	reconcilerMetricsOnce sync.Once
	reconcilerCollectors  *ReconcilerMetrics
)

// ModuleMetrics returns the lazily-initialised collectors used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "recvault",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RegistryMetrics captures instrument lifecycle activity.
type RegistryMetrics struct {
	transitions *prometheus.CounterVec
	byStatus    *prometheus.GaugeVec
}

// Registry returns the lazily-initialised instrument registry collectors.
func Registry() *RegistryMetrics {
	registryMetricsOnce.Do(func() {
		registryCollectors = &RegistryMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "registry",
				Name:      "transitions_total",
				Help:      "Count of instrument lifecycle transitions by event type.",
			}, []string{"event"}),
			byStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "recvault",
				Subsystem: "registry",
				Name:      "instruments",
				Help:      "Current instrument count per lifecycle status.",
			}, []string{"status"}),
		}
		prometheus.MustRegister(registryCollectors.transitions, registryCollectors.byStatus)
	})
	return registryCollectors
}

// RecordTransition increments the transition counter for the event type.
func (m *RegistryMetrics) RecordTransition(event string) {
	if m == nil || event == "" {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

// SetStatusCount updates the instrument gauge for a lifecycle status.
func (m *RegistryMetrics) SetStatusCount(status string, count int) {
	if m == nil || status == "" {
		return
	}
	m.byStatus.WithLabelValues(status).Set(float64(count))
}

// FundMetrics captures tranche accounting activity.
type FundMetrics struct {
	flows       *prometheus.CounterVec
	totalAssets *prometheus.GaugeVec
	totalUnits  *prometheus.GaugeVec
}

// Fund returns the lazily-initialised fund ledger collectors.
func Fund() *FundMetrics {
	fundMetricsOnce.Do(func() {
		fundCollectors = &FundMetrics{
			flows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "fund",
				Name:      "flows_total",
				Help:      "Count of fund operations by fund and kind.",
			}, []string{"fund", "kind"}),
			totalAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "recvault",
				Subsystem: "fund",
				Name:      "total_assets",
				Help:      "Pooled asset total per fund in the smallest currency unit.",
			}, []string{"fund"}),
			totalUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "recvault",
				Subsystem: "fund",
				Name:      "total_units",
				Help:      "Outstanding ownership units per fund.",
			}, []string{"fund"}),
		}
		prometheus.MustRegister(fundCollectors.flows, fundCollectors.totalAssets, fundCollectors.totalUnits)
	})
	return fundCollectors
}

// RecordFlow increments the flow counter for the fund and operation kind.
func (m *FundMetrics) RecordFlow(fund, kind string) {
	if m == nil || fund == "" || kind == "" {
		return
	}
	m.flows.WithLabelValues(fund, kind).Inc()
}

// SetTotals updates the asset and unit gauges for a fund. Values beyond
// float64 precision lose accuracy in the gauge only; ledger state is exact.
func (m *FundMetrics) SetTotals(fund string, assets, units float64) {
	if m == nil || fund == "" {
		return
	}
	m.totalAssets.WithLabelValues(fund).Set(assets)
	m.totalUnits.WithLabelValues(fund).Set(units)
}

// ReconcilerMetrics captures reconciliation pass activity. It satisfies the
// reconciler's pass observer contract.
type ReconcilerMetrics struct {
	passes   *prometheus.CounterVec
	actions  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Reconciler returns the lazily-initialised reconciliation collectors.
func Reconciler() *ReconcilerMetrics {
	reconcilerMetricsOnce.Do(func() {
		reconcilerCollectors = &ReconcilerMetrics{
			passes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "reconciler",
				Name:      "passes_total",
				Help:      "Count of completed reconciliation passes by kind.",
			}, []string{"kind"}),
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "reconciler",
				Name:      "actions_total",
				Help:      "Count of state changes applied by reconciliation passes.",
			}, []string{"kind"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "recvault",
				Subsystem: "reconciler",
				Name:      "failures_total",
				Help:      "Count of per-instrument reconciliation failures by pass kind.",
			}, []string{"kind"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "recvault",
				Subsystem: "reconciler",
				Name:      "pass_duration_seconds",
				Help:      "Duration distribution of reconciliation passes.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			reconcilerCollectors.passes,
			reconcilerCollectors.actions,
			reconcilerCollectors.failures,
			reconcilerCollectors.duration,
		)
	})
	return reconcilerCollectors
}

// ObservePass records the outcome of one reconciliation pass.
func (m *ReconcilerMetrics) ObservePass(kind string, scanned, applied, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.passes.WithLabelValues(kind).Inc()
	m.actions.WithLabelValues(kind).Add(float64(applied))
	m.failures.WithLabelValues(kind).Add(float64(failed))
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
