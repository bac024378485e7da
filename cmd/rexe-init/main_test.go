//go:build linux

package main

import (
	"os"
	"path/filepath"
	"testing"

	"rexe/internal/execute/sandbox/spec"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func TestRlimitsFor(t *testing.T) {
	limits := rlimitsFor(spec.ResourceLimit{CPUTimeMs: 2000, MemoryMB: 64, StackMB: 8, PIDs: 16})
	got := make(map[string]unix.Rlimit, len(limits))
	for _, l := range limits {
		got[l.name] = l.limit
	}
	if cpu := got["cpu"]; cpu.Cur != 2 || cpu.Max != 3 {
		t.Fatalf("unexpected cpu limit %+v", cpu)
	}
	if as := got["as"]; as.Cur != 64<<20 || as.Max != 64<<20 {
		t.Fatalf("unexpected address space limit %+v", as)
	}
	if _, ok := got["fsize"]; ok {
		t.Fatalf("zero file size must not be limited")
	}
	if len(limits) != 4 {
		t.Fatalf("expected 4 limits, got %d", len(limits))
	}
}

func TestRlimitsRoundCPUUp(t *testing.T) {
	limits := rlimitsFor(spec.ResourceLimit{CPUTimeMs: 1500})
	if len(limits) != 1 || limits[0].limit.Cur != 2 {
		t.Fatalf("expected cpu rounded up to 2s, got %+v", limits)
	}
}

func TestLoadRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.json")
	if err := os.WriteFile(path, []byte(`{"work_dir":"/tmp","cmd":["./main"],"limits":{"cpu_time_ms":1000}}`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	req, err := loadRequest(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if req.Cmd[0] != "./main" || req.Limits.CPUTimeMs != 1000 {
		t.Fatalf("unexpected request %+v", req)
	}

	if err := os.WriteFile(path, []byte(`{"work_dir":"/tmp","cmd":[]}`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := loadRequest(path); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestBuildEnvAddsPath(t *testing.T) {
	env := buildEnv([]string{"LANG=C"})
	if len(env) != 2 || env[1] != defaultPath {
		t.Fatalf("unexpected env %v", env)
	}
	env = buildEnv([]string{"PATH=/opt/bin"})
	if len(env) != 1 {
		t.Fatalf("explicit PATH must be kept, got %v", env)
	}
}

func TestParseSeccompAction(t *testing.T) {
	if a, err := parseSeccompAction("scmp_act_allow"); err != nil || a != seccomp.ActAllow {
		t.Fatalf("unexpected allow parse: %v %v", a, err)
	}
	if _, err := parseSeccompAction("SCMP_ACT_TRACE"); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}

func TestBuildFilterSkipsUnknownSyscalls(t *testing.T) {
	profile := []byte(`{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["ptrace","not_a_syscall"],"action":"SCMP_ACT_ERRNO"}]}`)
	filter, err := buildFilter(profile)
	if err != nil {
		t.Fatalf("build filter failed: %v", err)
	}
	filter.Release()
}
