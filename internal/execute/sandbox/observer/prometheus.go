package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports sandbox observations as Prometheus metrics.
type PrometheusRecorder struct {
	compiles     *prometheus.CounterVec
	compileTime  *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	runTime      *prometheus.HistogramVec
	runMemoryKiB *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rexe",
			Subsystem: "sandbox",
			Name:      "compiles_total",
			Help:      "Compile steps by language and outcome.",
		}, []string{"language", "ok"}),
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rexe",
			Subsystem: "sandbox",
			Name:      "compile_seconds",
			Help:      "Wall time of compile steps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}, []string{"language"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rexe",
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Executions by language and classified status.",
		}, []string{"language", "status"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rexe",
			Subsystem: "sandbox",
			Name:      "run_seconds",
			Help:      "Wall time of executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 11),
		}, []string{"language"}),
		runMemoryKiB: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rexe",
			Subsystem: "sandbox",
			Name:      "run_peak_memory_kib",
			Help:      "Peak resident memory of executions.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 10),
		}, []string{"language"}),
	}
	for _, c := range []prometheus.Collector{r.compiles, r.compileTime, r.runs, r.runTime, r.runMemoryKiB} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, wallTimeMs int64) {
	r.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	r.compileTime.WithLabelValues(languageID).Observe(float64(wallTimeMs) / 1000)
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, status string, wallTimeMs int64, memoryKB int64) {
	r.runs.WithLabelValues(languageID, status).Inc()
	r.runTime.WithLabelValues(languageID).Observe(float64(wallTimeMs) / 1000)
	if memoryKB > 0 {
		r.runMemoryKiB.WithLabelValues(languageID).Observe(float64(memoryKB))
	}
}
