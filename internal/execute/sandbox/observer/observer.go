// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, wallTimeMs int64)
	ObserveRun(ctx context.Context, languageID string, status string, wallTimeMs int64, memoryKB int64)
}

// NoopMetricsRecorder discards all observations.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, wallTimeMs int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, status string, wallTimeMs int64, memoryKB int64) {
}
