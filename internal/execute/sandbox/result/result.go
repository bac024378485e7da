// Package result defines execution outcomes and the raw process data they are derived from.
package result

// Status is the outcome reported to clients.
type Status string

const (
	StatusCompilerError       Status = "CompilerError"
	StatusSuccess             Status = "Success"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusMemoryLimitExceeded Status = "MemoryLimitExceeded"
	StatusOutputLimitExceeded Status = "OutputLimitExceeded"
	StatusRuntimeError        Status = "RuntimeError"
	StatusSegmentationFault   Status = "SegmentationFault"

	// Poll-only statuses. They are never stored.
	StatusPending Status = "pending"
	StatusStop    Status = "stop"
)

// Terminal reports whether s is a classified execution outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompilerError, StatusSuccess, StatusTimeLimitExceeded, StatusMemoryLimitExceeded,
		StatusOutputLimitExceeded, StatusRuntimeError, StatusSegmentationFault:
		return true
	default:
		return false
	}
}

// Result is the stored and served execution result.
// Time and Memory are only set on Success.
type Result struct {
	Status Status  `json:"status"`
	Signal *string `json:"signal"`
	Output string  `json:"output,omitempty"`
	// Time is measured wall time in milliseconds.
	Time *int64 `json:"time,omitempty"`
	// Memory is peak resident memory in kilobytes.
	Memory *int64 `json:"memory,omitempty"`
	// Fingerprint identifies the submission version the result was produced for.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Pending is the poll answer while a result is not ready.
func Pending() Result {
	return Result{Status: StatusPending}
}

// Stop tells a poller that no result will ever arrive for its cookie.
func Stop() Result {
	return Result{Status: StatusStop}
}

// RunResult captures raw data of one sandboxed process.
type RunResult struct {
	ExitCode int
	// Signal is the terminating signal name, empty when the process exited normally.
	Signal string
	// TimedOut is set when the wall-clock timer killed the process.
	TimedOut bool
	// OutputExceeded is set when stdout hit the ceiling and the process was killed.
	OutputExceeded bool
	Stdout         string
	Stderr         string
	TimeMs         int64
	WallTimeMs     int64
	MemoryKB       int64
}
