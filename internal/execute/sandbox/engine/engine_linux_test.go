//go:build linux

package engine

import (
	"context"
	"strings"
	"testing"

	"rexe/internal/execute/sandbox/spec"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	eng, err := NewEngine(Config{OutputMaxBytes: 1024})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	return eng
}

func shellSpec(t *testing.T, script string) spec.RunSpec {
	return spec.RunSpec{
		WorkDir: t.TempDir(),
		Cmd:     []string{"/bin/sh", "-c", script},
		Limits:  spec.ResourceLimit{WallTimeMs: 5000},
	}
}

func TestRunCapturesOutput(t *testing.T) {
	eng := newTestEngine(t)
	runSpec := shellSpec(t, "cat; echo oops >&2")
	runSpec.Stdin = []byte("hello\n")

	res, err := eng.Run(context.Background(), runSpec)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.ExitCode != 0 || res.Signal != "" {
		t.Fatalf("unexpected termination: exit=%d signal=%q", res.ExitCode, res.Signal)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if res.Stderr != "oops\n" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	eng := newTestEngine(t)
	res, err := eng.Run(context.Background(), shellSpec(t, "exit 3"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestRunReportsSignal(t *testing.T) {
	eng := newTestEngine(t)
	res, err := eng.Run(context.Background(), shellSpec(t, "kill -s SEGV $$"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Signal != "SIGSEGV" {
		t.Fatalf("expected SIGSEGV, got %q", res.Signal)
	}
	if res.TimedOut {
		t.Fatalf("signal must not count as timeout")
	}
}

func TestRunWallTimeout(t *testing.T) {
	eng := newTestEngine(t)
	runSpec := shellSpec(t, "sleep 10")
	runSpec.Limits.WallTimeMs = 200

	res, err := eng.Run(context.Background(), runSpec)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout")
	}
	if res.Signal != "SIGKILL" {
		t.Fatalf("expected SIGKILL, got %q", res.Signal)
	}
}

func TestRunOutputCeiling(t *testing.T) {
	eng := newTestEngine(t)
	res, err := eng.Run(context.Background(), shellSpec(t, "yes"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.OutputExceeded {
		t.Fatalf("expected output ceiling to be hit")
	}
	if len(res.Stdout) != 1024 {
		t.Fatalf("expected 1024 captured bytes, got %d", len(res.Stdout))
	}
	if !strings.HasPrefix(res.Stdout, "y\ny\n") {
		t.Fatalf("unexpected stdout prefix %q", res.Stdout[:8])
	}
	if res.TimedOut {
		t.Fatalf("output kill must not be reported as timeout")
	}
}

func TestRunSpawnFailure(t *testing.T) {
	eng := newTestEngine(t)
	runSpec := spec.RunSpec{WorkDir: t.TempDir(), Cmd: []string{"/nonexistent/rexe-binary"}}
	if _, err := eng.Run(context.Background(), runSpec); err == nil {
		t.Fatalf("expected spawn error")
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.Run(context.Background(), spec.RunSpec{WorkDir: t.TempDir()}); err == nil {
		t.Fatalf("expected validation error")
	}
}
