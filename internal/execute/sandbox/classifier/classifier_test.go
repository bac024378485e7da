package classifier

import (
	"strings"
	"testing"

	"rexe/internal/execute/sandbox/result"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		wantStatus result.Status
		wantSignal string
		wantOutput string
	}{
		{
			name: "compile failure wins over everything",
			in: Input{
				Compile: &CompileOutcome{ExitCode: 1, Stderr: "error: expected ';'"},
				Run:     result.RunResult{Signal: "SIGXCPU", OutputExceeded: true},
			},
			wantStatus: result.StatusCompilerError,
			wantOutput: "error: expected ';'",
		},
		{
			name: "compile timeout",
			in: Input{
				Compile: &CompileOutcome{TimedOut: true, Stderr: "partial"},
			},
			wantStatus: result.StatusCompilerError,
			wantOutput: "partial",
		},
		{
			name: "output ceiling precedes signals",
			in: Input{
				Compile: &CompileOutcome{},
				Run:     result.RunResult{OutputExceeded: true, Signal: "SIGKILL", Stdout: "yyyy"},
			},
			wantStatus: result.StatusOutputLimitExceeded,
			wantSignal: "SIGKILL",
			wantOutput: "yyyy",
		},
		{
			name:       "cpu limit signal",
			in:         Input{Run: result.RunResult{Signal: "SIGXCPU", Stdout: "partial", Stderr: "x"}},
			wantStatus: result.StatusTimeLimitExceeded,
			wantSignal: "SIGXCPU",
		},
		{
			name:       "wall timer kill",
			in:         Input{Run: result.RunResult{Signal: "SIGKILL", TimedOut: true, MemoryKB: 1 << 30}, MemoryLimitMB: 64},
			wantStatus: result.StatusTimeLimitExceeded,
			wantSignal: "SIGKILL",
		},
		{
			name:       "segv above memory limit",
			in:         Input{Run: result.RunResult{Signal: "SIGSEGV", MemoryKB: 70 * 1024}, MemoryLimitMB: 64},
			wantStatus: result.StatusMemoryLimitExceeded,
			wantSignal: "SIGSEGV",
		},
		{
			name:       "segv at exactly the memory limit",
			in:         Input{Run: result.RunResult{Signal: "SIGSEGV", MemoryKB: 64 * 1024}, MemoryLimitMB: 64},
			wantStatus: result.StatusSegmentationFault,
			wantSignal: "SIGSEGV",
		},
		{
			name:       "segv below memory limit",
			in:         Input{Run: result.RunResult{Signal: "SIGSEGV", MemoryKB: 2048, Stderr: "boom"}, MemoryLimitMB: 64},
			wantStatus: result.StatusSegmentationFault,
			wantSignal: "SIGSEGV",
		},
		{
			name:       "external kill above memory limit",
			in:         Input{Run: result.RunResult{Signal: "SIGKILL", MemoryKB: 200 * 1024}, MemoryLimitMB: 128},
			wantStatus: result.StatusMemoryLimitExceeded,
			wantSignal: "SIGKILL",
		},
		{
			name:       "other signal",
			in:         Input{Run: result.RunResult{Signal: "SIGABRT", Stderr: "terminate called"}},
			wantStatus: result.StatusRuntimeError,
			wantSignal: "SIGABRT",
			wantOutput: "terminate called",
		},
		{
			name:       "stderr without signal",
			in:         Input{Run: result.RunResult{Stdout: "1", Stderr: "Traceback"}},
			wantStatus: result.StatusRuntimeError,
			wantOutput: "Traceback",
		},
		{
			name:       "clean run",
			in:         Input{Compile: &CompileOutcome{}, Run: result.RunResult{Stdout: "42\n", WallTimeMs: 12, MemoryKB: 3000}},
			wantStatus: result.StatusSuccess,
			wantOutput: "42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got.Status != tt.wantStatus {
				t.Fatalf("status: expected %s, got %s", tt.wantStatus, got.Status)
			}
			if tt.wantSignal == "" && got.Signal != nil {
				t.Fatalf("expected no signal, got %s", *got.Signal)
			}
			if tt.wantSignal != "" && (got.Signal == nil || *got.Signal != tt.wantSignal) {
				t.Fatalf("signal: expected %s, got %v", tt.wantSignal, got.Signal)
			}
			if got.Output != tt.wantOutput {
				t.Fatalf("output: expected %q, got %q", tt.wantOutput, got.Output)
			}
			if got.Status != result.StatusSuccess && (got.Time != nil || got.Memory != nil) {
				t.Fatalf("measurements must only be set on success")
			}
		})
	}
}

func TestClassifySuccessMeasurements(t *testing.T) {
	got := Classify(Input{Run: result.RunResult{Stdout: "ok", WallTimeMs: 15, MemoryKB: 4096}})
	if got.Time == nil || *got.Time != 15 {
		t.Fatalf("unexpected time %v", got.Time)
	}
	if got.Memory == nil || *got.Memory != 4096 {
		t.Fatalf("unexpected memory %v", got.Memory)
	}
}

func TestClassifyTruncatesOutput(t *testing.T) {
	long := strings.Repeat("e", 100)
	cases := []Input{
		{Compile: &CompileOutcome{ExitCode: 1, Stderr: long}, OutputCeiling: 10},
		{Run: result.RunResult{OutputExceeded: true, Stdout: long}, OutputCeiling: 10},
		{Run: result.RunResult{Stderr: long}, OutputCeiling: 10},
		{Run: result.RunResult{Stdout: long}, OutputCeiling: 10},
	}
	for i, in := range cases {
		if got := Classify(in); len(got.Output) != 10 {
			t.Fatalf("case %d: expected 10 bytes of output, got %d", i, len(got.Output))
		}
	}
}
