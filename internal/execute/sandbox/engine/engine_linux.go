//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"rexe/internal/execute/sandbox/result"
	"rexe/internal/execute/sandbox/spec"
	"rexe/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultOutputMaxBytes int64 = 256 * 1024
	pipeDrainDelay              = time.Second
)

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = defaultOutputMaxBytes
	}
	if cfg.LauncherPath != "" {
		if _, err := os.Stat(cfg.LauncherPath); err != nil {
			return nil, fmt.Errorf("launcher %s: %w", cfg.LauncherPath, err)
		}
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}

	argv := runSpec.Cmd
	if runSpec.UseLauncher && e.cfg.LauncherPath != "" {
		reqPath, cleanup, err := e.writeLaunchRequest(runSpec)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("write launch request: %w", err)
		}
		defer cleanup()
		argv = []string{e.cfg.LauncherPath, reqPath}
	}

	outputMax := runSpec.Limits.OutputBytes
	if outputMax <= 0 {
		outputMax = e.cfg.OutputMaxBytes
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.Env = runSpec.Env
	cmd.Stdin = bytes.NewReader(runSpec.Stdin)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	cmd.WaitDelay = pipeDrainDelay

	var pid atomic.Int64
	kill := func() { killProcessGroup(int(pid.Load())) }
	stdout := newLimitedBuffer(outputMax, kill)
	stderr := newLimitedBuffer(outputMax, nil)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start process: %w", err)
	}
	pid.Store(int64(cmd.Process.Pid))
	// Output may have overflowed before the pid was stored.
	if stdout.Exceeded() {
		kill()
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wall := durationFromMs(runSpec.Limits.WallTimeMs); wall > 0 {
			timer := time.NewTimer(wall)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			kill()
		case <-wallTimer:
			timedOut.Store(true)
			kill()
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	runResult := result.RunResult{
		ExitCode:       exitCodeFromErr(waitErr, cmd.ProcessState),
		Signal:         signalName(cmd.ProcessState),
		TimedOut:       timedOut.Load(),
		OutputExceeded: stdout.Exceeded(),
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		TimeMs:         cpuTimeMs(cmd.ProcessState),
		WallTimeMs:     time.Since(start).Milliseconds(),
		MemoryKB:       memoryPeakKB(cmd.ProcessState),
	}
	if waitErr != nil && cmd.ProcessState == nil {
		logger.Warn(ctx, "wait for sandboxed process failed", zap.Error(waitErr))
	}
	if err := ctx.Err(); err != nil && !runResult.TimedOut {
		return runResult, err
	}
	return runResult, nil
}

func (e *linuxEngine) writeLaunchRequest(runSpec spec.RunSpec) (string, func(), error) {
	req := spec.LaunchRequest{
		WorkDir:        runSpec.WorkDir,
		Cmd:            runSpec.Cmd,
		Env:            runSpec.Env,
		Limits:         runSpec.Limits,
		SeccompProfile: e.cfg.SeccompProfile,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", nil, err
	}
	file, err := os.CreateTemp("", "rexe-launch-*.json")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(file.Name()) }
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		cleanup()
		return "", nil, err
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return file.Name(), cleanup, nil
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func signalName(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}

func memoryPeakKB(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	return usage.Maxrss
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
