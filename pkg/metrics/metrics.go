package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reservation metrics
	ReservationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vrm_reservations_total",
			Help: "Total number of reservations by kind and state",
		},
		[]string{"kind", "state"},
	)

	ReservationsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrm_reservations_accepted_total",
			Help: "Total number of reservations that reached ReserveAnswer by kind",
		},
		[]string{"kind"},
	)

	ReservationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrm_reservations_rejected_total",
			Help: "Total number of reservations rejected by kind",
		},
		[]string{"kind"},
	)

	// Scheduling metrics
	ProbeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrm_probe_latency_seconds",
			Help:    "Time taken to compute a feasibility search (CalculateSchedule) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReserveLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrm_reserve_latency_seconds",
			Help:    "Time taken to commit a reservation to a schedule in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	Fragmentation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vrm_fragmentation",
			Help: "Quadratic-mean fragmentation index of a component's schedule, by component id",
		},
		[]string{"component_id"},
	)

	LoadUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vrm_load_utilization",
			Help: "Trimmed-mean utilization of a component's schedule, by component id",
		},
		[]string{"component_id"},
	)

	// Shadow-schedule metrics
	ShadowCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_shadow_commits_total",
			Help: "Total number of shadow-schedule transactions committed",
		},
	)

	ShadowRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_shadow_rollbacks_total",
			Help: "Total number of shadow-schedule transactions rolled back",
		},
	)

	ShadowCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrm_shadow_commit_duration_seconds",
			Help:    "Time taken to commit a shadow schedule hierarchy in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ADC optimisation metrics
	OptimizationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_optimization_cycles_total",
			Help: "Total number of ADC optimisation cycles run",
		},
	)

	OptimizationAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_optimization_applied_total",
			Help: "Total number of ADC optimisation cycles whose repacking was committed",
		},
	)

	// Workflow metrics
	WorkflowsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_workflows_scheduled_total",
			Help: "Total number of workflows successfully scheduled",
		},
	)

	WorkflowsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_workflows_cancelled_total",
			Help: "Total number of workflows cancelled due to deadline miss",
		},
	)

	WorkflowScheduleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrm_workflow_schedule_duration_seconds",
			Help:    "Time taken to schedule a workflow's co-allocation DAG in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrm_reconciliation_duration_seconds",
			Help:    "Time taken for a deadline-queue reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	DeadlinesMissedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrm_deadlines_missed_total",
			Help: "Total number of commit- or execution-deadline events fired by kind",
		},
		[]string{"kind"},
	)

	// RMS adapter metrics
	RmsCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vrm_rms_call_duration_seconds",
			Help:    "Time taken by an RMS adapter call, by adapter and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter", "operation"},
	)

	RmsCallErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrm_rms_call_errors_total",
			Help: "Total number of failed RMS adapter calls, by adapter and operation",
		},
		[]string{"adapter", "operation"},
	)
)

func init() {
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(ReservationsAccepted)
	prometheus.MustRegister(ReservationsRejected)
	prometheus.MustRegister(ProbeLatency)
	prometheus.MustRegister(ReserveLatency)
	prometheus.MustRegister(Fragmentation)
	prometheus.MustRegister(LoadUtilization)
	prometheus.MustRegister(ShadowCommitsTotal)
	prometheus.MustRegister(ShadowRollbacksTotal)
	prometheus.MustRegister(ShadowCommitDuration)
	prometheus.MustRegister(OptimizationCyclesTotal)
	prometheus.MustRegister(OptimizationAppliedTotal)
	prometheus.MustRegister(WorkflowsScheduledTotal)
	prometheus.MustRegister(WorkflowsCancelledTotal)
	prometheus.MustRegister(WorkflowScheduleDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(DeadlinesMissedTotal)
	prometheus.MustRegister(RmsCallDuration)
	prometheus.MustRegister(RmsCallErrorsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
