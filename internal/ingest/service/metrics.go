package service

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics counts ingested completion notices.
type PrometheusMetrics struct {
	completions *prometheus.CounterVec
}

func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rexe",
			Subsystem: "ingest",
			Name:      "completions_total",
			Help:      "Completion notices by language and whether a new record was inserted.",
		}, []string{"language", "inserted"}),
	}
	if err := reg.Register(m.completions); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PrometheusMetrics) ObserveCompletion(ctx context.Context, language string, inserted bool) {
	m.completions.WithLabelValues(language, strconv.FormatBool(inserted)).Inc()
}
