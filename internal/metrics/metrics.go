package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kasirsync"

// Recorder owns a private registry. All methods are safe on a nil receiver so
// components can run without metrics wired.
type Recorder struct {
	registry *prometheus.Registry

	deductionsTotal      *prometheus.CounterVec
	deductionFailures    *prometheus.CounterVec
	offlineOrdersStaged  prometheus.Counter
	offlineOrdersEvicted prometheus.Counter
	syncResults          *prometheus.CounterVec
	auditActions         *prometheus.CounterVec
	networkState         prometheus.Gauge
	openDiscrepancies    prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.deductionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "deductions_total",
			Help:      "FIFO deductions committed, by deduction sync status.",
		},
		[]string{"sync_status"},
	)
	r.deductionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "deduction_failures_total",
			Help:      "FIFO deductions rejected, by reason.",
		},
		[]string{"reason"},
	)
	r.offlineOrdersStaged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline",
			Name:      "orders_staged_total",
			Help:      "Orders created while disconnected and placed in the offline queue.",
		},
	)
	r.offlineOrdersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline",
			Name:      "orders_evicted_total",
			Help:      "Offline queue entries dropped because the queue was full.",
		},
	)
	r.syncResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "results_total",
			Help:      "Offline order sync outcomes, by resulting status.",
		},
		[]string{"status"},
	)
	r.auditActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "actions_total",
			Help:      "Reconciliation actions, by action and success.",
		},
		[]string{"action", "success"},
	)
	r.networkState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "state",
			Help:      "Connectivity state (0=connected, 1=degraded, 2=disconnected).",
		},
	)
	r.openDiscrepancies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "open_discrepancies",
			Help:      "Discrepancies found by the last reconciliation sweep.",
		},
	)

	r.registry.MustRegister(
		r.deductionsTotal,
		r.deductionFailures,
		r.offlineOrdersStaged,
		r.offlineOrdersEvicted,
		r.syncResults,
		r.auditActions,
		r.networkState,
		r.openDiscrepancies,
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) DeductionCommitted(syncStatus string) {
	if r == nil {
		return
	}
	r.deductionsTotal.WithLabelValues(syncStatus).Inc()
}

func (r *Recorder) DeductionFailed(reason string) {
	if r == nil {
		return
	}
	r.deductionFailures.WithLabelValues(reason).Inc()
}

func (r *Recorder) OfflineOrderStaged(evicted int) {
	if r == nil {
		return
	}
	r.offlineOrdersStaged.Inc()
	if evicted > 0 {
		r.offlineOrdersEvicted.Add(float64(evicted))
	}
}

func (r *Recorder) SyncResult(status string) {
	if r == nil {
		return
	}
	r.syncResults.WithLabelValues(status).Inc()
}

func (r *Recorder) AuditAction(action string, success bool) {
	if r == nil {
		return
	}
	r.auditActions.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func (r *Recorder) SetNetworkState(level int) {
	if r == nil {
		return
	}
	r.networkState.Set(float64(level))
}

func (r *Recorder) SetOpenDiscrepancies(n int) {
	if r == nil {
		return
	}
	r.openDiscrepancies.Set(float64(n))
}
