package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "functiond_executions_total",
			Help: "Total completed executions by flavor and result status.",
		},
		[]string{"flavor", "status"},
	)

	admissionRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "functiond_admission_rejections_total",
			Help: "Executions rejected because slots and queue were full.",
		},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "functiond_retries_total",
			Help: "Backend invocations that were retried.",
		},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "functiond_cache_hits_total",
			Help: "Executions served from the result cache.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "functiond_queue_depth",
			Help: "Current number of executions waiting for a slot.",
		},
	)

	activeExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "functiond_active_executions",
			Help: "Current number of executions holding a slot.",
		},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "functiond_execution_duration_seconds",
			Help:    "End-to-end execution duration by flavor.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"flavor"},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(admissionRejectionsTotal)
	prometheus.MustRegister(retriesTotal)
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(activeExecutions)
	prometheus.MustRegister(executionDuration)
}
