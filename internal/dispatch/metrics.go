package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visiond",
			Subsystem: "dispatch",
			Name:      "model_loads_total",
			Help:      "Total successful model loads",
		},
		[]string{"model"},
	)

	loadErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visiond",
			Subsystem: "dispatch",
			Name:      "model_load_errors_total",
			Help:      "Total failed model loads",
		},
		[]string{"model"},
	)

	loadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visiond",
			Subsystem: "dispatch",
			Name:      "model_load_seconds",
			Help:      "Model load duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "visiond",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Requests holding a queue slot per model",
		},
		[]string{"model"},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visiond",
			Subsystem: "dispatch",
			Name:      "generations_total",
			Help:      "Total completed generations by outcome",
		},
		[]string{"model", "outcome"},
	)

	generationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visiond",
			Subsystem: "dispatch",
			Name:      "generation_seconds",
			Help:      "End-to-end generation duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	completionTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visiond",
			Subsystem: "dispatch",
			Name:      "completion_tokens_total",
			Help:      "Total completion tokens generated",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(
		loadsTotal, loadErrorsTotal, loadSeconds,
		queueDepth, generationsTotal, generationSeconds, completionTokens,
	)
}
