// Package classifier maps raw process outcomes onto the closed result taxonomy.
package classifier

import (
	"rexe/internal/execute/sandbox/result"
)

const (
	signalCPULimit = "SIGXCPU"
	signalSegv     = "SIGSEGV"
	signalKill     = "SIGKILL"
)

// CompileOutcome is the raw outcome of the compile step.
type CompileOutcome struct {
	ExitCode int
	TimedOut bool
	Stderr   string
}

// Failed reports whether the compile step did not produce an artifact.
func (c CompileOutcome) Failed() bool {
	return c.ExitCode != 0 || c.TimedOut
}

// Input carries everything the decision depends on.
type Input struct {
	// Compile is nil for interpreted languages.
	Compile *CompileOutcome
	Run     result.RunResult
	// MemoryLimitMB is the declared limit, without runtime overhead.
	MemoryLimitMB int64
	// OutputCeiling bounds every output string in the result.
	OutputCeiling int
}

// Classify applies the decision rules in order; the first match wins.
func Classify(in Input) result.Result {
	if in.Compile != nil && in.Compile.Failed() {
		return result.Result{
			Status: result.StatusCompilerError,
			Output: truncate(in.Compile.Stderr, in.OutputCeiling),
		}
	}

	run := in.Run
	if run.OutputExceeded {
		return result.Result{
			Status: result.StatusOutputLimitExceeded,
			Signal: signalPtr(run.Signal),
			Output: truncate(run.Stdout, in.OutputCeiling),
		}
	}

	if run.Signal == signalCPULimit || run.TimedOut {
		return result.Result{
			Status: result.StatusTimeLimitExceeded,
			Signal: signalPtr(run.Signal),
		}
	}

	if run.Signal == signalSegv || run.Signal == signalKill {
		status := result.StatusSegmentationFault
		if run.MemoryKB > in.MemoryLimitMB*1024 {
			status = result.StatusMemoryLimitExceeded
		}
		return result.Result{Status: status, Signal: signalPtr(run.Signal)}
	}

	if run.Signal != "" || run.Stderr != "" {
		return result.Result{
			Status: result.StatusRuntimeError,
			Signal: signalPtr(run.Signal),
			Output: truncate(run.Stderr, in.OutputCeiling),
		}
	}

	timeMs := run.WallTimeMs
	memoryKB := run.MemoryKB
	return result.Result{
		Status: result.StatusSuccess,
		Output: truncate(run.Stdout, in.OutputCeiling),
		Time:   &timeMs,
		Memory: &memoryKB,
	}
}

func signalPtr(sig string) *string {
	if sig == "" {
		return nil
	}
	return &sig
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
