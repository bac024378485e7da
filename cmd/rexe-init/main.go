//go:build linux

// Command rexe-init applies resource limits and an optional syscall filter to
// itself, then execs the submission. The runner starts it as
// "rexe-init <request.json>".
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"rexe/internal/execute/sandbox/spec"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

func main() {
	if len(os.Args) != 2 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: rexe-init <request.json>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "rexe-init: "+err.Error())
		os.Exit(1)
	}
}

func run(requestPath string) error {
	req, err := loadRequest(requestPath)
	if err != nil {
		return err
	}
	if err := os.Chdir(req.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	for _, l := range rlimitsFor(req.Limits) {
		lim := l.limit
		if err := unix.Setrlimit(l.resource, &lim); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}

	env := buildEnv(req.Env)
	// Resolve against the sandbox PATH before the filter may forbid stat calls.
	cmdPath, err := lookPath(req.Cmd[0], env)
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	if req.SeccompProfile != "" {
		if err := applySeccomp(req.SeccompProfile); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, req.Cmd, env)
}

func loadRequest(path string) (spec.LaunchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return spec.LaunchRequest{}, fmt.Errorf("read request: %w", err)
	}
	var req spec.LaunchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return spec.LaunchRequest{}, fmt.Errorf("decode request: %w", err)
	}
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return spec.LaunchRequest{}, fmt.Errorf("command is required")
	}
	if req.WorkDir == "" {
		return spec.LaunchRequest{}, fmt.Errorf("work dir is required")
	}
	return req, nil
}

type rlimit struct {
	name     string
	resource int
	limit    unix.Rlimit
}

// rlimitsFor maps limits to setrlimit calls. The CPU hard limit sits one second
// above the soft limit so the kernel delivers SIGXCPU before SIGKILL.
func rlimitsFor(limits spec.ResourceLimit) []rlimit {
	var out []rlimit
	if limits.CPUTimeMs > 0 {
		seconds := uint64((limits.CPUTimeMs + 999) / 1000)
		out = append(out, rlimit{"cpu", unix.RLIMIT_CPU, unix.Rlimit{Cur: seconds, Max: seconds + 1}})
	}
	if limits.MemoryMB > 0 {
		bytes := uint64(limits.MemoryMB) << 20
		out = append(out, rlimit{"as", unix.RLIMIT_AS, unix.Rlimit{Cur: bytes, Max: bytes}})
	}
	if limits.StackMB > 0 {
		bytes := uint64(limits.StackMB) << 20
		out = append(out, rlimit{"stack", unix.RLIMIT_STACK, unix.Rlimit{Cur: bytes, Max: bytes}})
	}
	if limits.FileSizeMB > 0 {
		bytes := uint64(limits.FileSizeMB) << 20
		out = append(out, rlimit{"fsize", unix.RLIMIT_FSIZE, unix.Rlimit{Cur: bytes, Max: bytes}})
	}
	if limits.PIDs > 0 {
		n := uint64(limits.PIDs)
		out = append(out, rlimit{"nproc", unix.RLIMIT_NPROC, unix.Rlimit{Cur: n, Max: n}})
	}
	return out
}

func buildEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	return append(append([]string(nil), env...), defaultPath)
}

func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return exec.LookPath(name)
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			if err := os.Setenv("PATH", strings.TrimPrefix(kv, "PATH=")); err != nil {
				return "", err
			}
			break
		}
	}
	return exec.LookPath(name)
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	filter, err := buildFilter(data)
	if err != nil {
		return err
	}
	defer filter.Release()
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func buildFilter(profile []byte) (*seccomp.ScmpFilter, error) {
	var cfg seccompConfig
	if err := json.Unmarshal(profile, &cfg); err != nil {
		return nil, fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return nil, err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			filter.Release()
			return nil, err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Profiles list syscalls of every architecture.
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				filter.Release()
				return nil, fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	return filter, nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
