// Package runner compiles and executes one submission inside a scratch directory.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"rexe/internal/execute/sandbox/classifier"
	"rexe/internal/execute/sandbox/engine"
	"rexe/internal/execute/sandbox/observer"
	"rexe/internal/execute/sandbox/profile"
	"rexe/internal/execute/sandbox/result"
	"rexe/internal/execute/sandbox/spec"
	appErr "rexe/pkg/errors"
	"rexe/pkg/utils/logger"
)

const (
	inputFileName = "input.txt"

	defaultCompileTimeout       = 10 * time.Second
	defaultWallSlack            = 2 * time.Second
	defaultOutputCeiling  int64 = 256 * 1024
)

// Request describes one execution.
type Request struct {
	Language      string
	Code          string
	Input         string
	TimeLimitSec  int64
	MemoryLimitMB int64
}

// Config controls runner behavior.
type Config struct {
	// WorkRoot holds per-attempt scratch directories. Empty uses the OS temp dir.
	WorkRoot       string        `yaml:"workRoot"`
	CompileTimeout time.Duration `yaml:"compileTimeout"`
	// WallSlack is added to the declared time limit for the wall-clock timer.
	WallSlack     time.Duration `yaml:"wallSlack"`
	OutputCeiling int64         `yaml:"outputCeiling"`
	StackMB       int64         `yaml:"stackMB"`
	FileSizeMB    int64         `yaml:"fileSizeMB"`
	PIDs          int64         `yaml:"pids"`
}

// Runner executes submissions.
type Runner interface {
	Execute(ctx context.Context, req Request) (result.Result, error)
}

// DefaultRunner implements the compile/run workflow for configured languages.
type DefaultRunner struct {
	eng     engine.Engine
	langs   profile.Repository
	metrics observer.MetricsRecorder
	cfg     Config
}

// NewRunner creates a runner backed by the sandbox engine.
func NewRunner(eng engine.Engine, langs profile.Repository, cfg Config) *DefaultRunner {
	return NewRunnerWithObserver(eng, langs, cfg, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, langs profile.Repository, cfg Config, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	if cfg.WallSlack <= 0 {
		cfg.WallSlack = defaultWallSlack
	}
	if cfg.OutputCeiling <= 0 {
		cfg.OutputCeiling = defaultOutputCeiling
	}
	return &DefaultRunner{eng: eng, langs: langs, metrics: metrics, cfg: cfg}
}

// Execute runs req in a fresh scratch directory and classifies the outcome.
// Errors are reserved for local failures that say nothing about the program.
func (r *DefaultRunner) Execute(ctx context.Context, req Request) (result.Result, error) {
	if err := validateRequest(req); err != nil {
		return result.Result{}, err
	}
	lang, err := r.langs.GetLanguageSpec(ctx, req.Language)
	if err != nil {
		return result.Result{}, err
	}

	workDir, err := os.MkdirTemp(r.cfg.WorkRoot, "rexe-"+lang.ID+"-")
	if err != nil {
		return result.Result{}, appErr.Wrapf(err, appErr.ScratchIOFailed, "create scratch dir failed")
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	if err := r.prepareWorkDir(workDir, lang, req); err != nil {
		return result.Result{}, err
	}

	in := classifier.Input{
		MemoryLimitMB: req.MemoryLimitMB,
		OutputCeiling: int(r.cfg.OutputCeiling),
	}
	if lang.CompileEnabled {
		outcome, err := r.compile(ctx, workDir, lang)
		if err != nil {
			return result.Result{}, err
		}
		in.Compile = &outcome
		if outcome.Failed() {
			res := classifier.Classify(in)
			logger.Info(ctx, "compile failed", zap.String("language", lang.ID), zap.Int("exit_code", outcome.ExitCode))
			return res, nil
		}
	}

	runResult, err := r.run(ctx, workDir, lang, req)
	if err != nil {
		return result.Result{}, err
	}
	in.Run = runResult
	res := classifier.Classify(in)
	r.metrics.ObserveRun(ctx, lang.ID, string(res.Status), runResult.WallTimeMs, runResult.MemoryKB)
	logger.Info(ctx, "execution classified",
		zap.String("language", lang.ID),
		zap.String("status", string(res.Status)),
		zap.String("signal", runResult.Signal),
		zap.Int64("wall_ms", runResult.WallTimeMs),
		zap.Int64("memory_kb", runResult.MemoryKB),
	)
	return res, nil
}

func (r *DefaultRunner) prepareWorkDir(workDir string, lang profile.LanguageSpec, req Request) error {
	files, err := profile.Prepare(lang, req.Code, req.TimeLimitSec, req.MemoryLimitMB)
	if err != nil {
		return appErr.Wrapf(err, appErr.RunnerSystemError, "prepare source failed")
	}
	files = append(files, profile.SourceFile{Name: inputFileName, Content: []byte(req.Input)})
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(workDir, file.Name), file.Content, 0o644); err != nil {
			return appErr.Wrapf(err, appErr.ScratchIOFailed, "write %s failed", file.Name)
		}
	}
	return nil
}

func (r *DefaultRunner) compile(ctx context.Context, workDir string, lang profile.LanguageSpec) (classifier.CompileOutcome, error) {
	cmd, err := buildCommand(lang.CompileCmdTpl, lang)
	if err != nil {
		return classifier.CompileOutcome{}, err
	}
	runResult, err := r.eng.Run(ctx, spec.RunSpec{
		WorkDir: workDir,
		Cmd:     cmd,
		Env:     lang.Env,
		Limits: spec.ResourceLimit{
			WallTimeMs:  r.cfg.CompileTimeout.Milliseconds(),
			OutputBytes: r.cfg.OutputCeiling,
		},
	})
	if err != nil {
		return classifier.CompileOutcome{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "start compiler failed")
	}
	outcome := classifier.CompileOutcome{
		ExitCode: runResult.ExitCode,
		TimedOut: runResult.TimedOut,
		Stderr:   runResult.Stderr,
	}
	if outcome.TimedOut {
		outcome.Stderr = fmt.Sprintf("compilation timed out after %s\n%s", r.cfg.CompileTimeout, outcome.Stderr)
	}
	r.metrics.ObserveCompile(ctx, lang.ID, !outcome.Failed(), runResult.WallTimeMs)
	return outcome, nil
}

func (r *DefaultRunner) run(ctx context.Context, workDir string, lang profile.LanguageSpec, req Request) (result.RunResult, error) {
	cmd, err := buildCommand(lang.RunCmdTpl, lang)
	if err != nil {
		return result.RunResult{}, err
	}
	limitMs := req.TimeLimitSec * 1000
	runResult, err := r.eng.Run(ctx, spec.RunSpec{
		WorkDir: workDir,
		Cmd:     cmd,
		Env:     lang.Env,
		Stdin:   []byte(req.Input),
		Limits: spec.ResourceLimit{
			CPUTimeMs:   limitMs,
			WallTimeMs:  limitMs + r.cfg.WallSlack.Milliseconds(),
			MemoryMB:    req.MemoryLimitMB + lang.MemoryOverheadMB,
			StackMB:     r.cfg.StackMB,
			FileSizeMB:  r.cfg.FileSizeMB,
			PIDs:        r.cfg.PIDs,
			OutputBytes: r.cfg.OutputCeiling,
		},
		UseLauncher: true,
	})
	if err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "start program failed")
	}
	if wallMs, memoryKB, ok := readUsage(filepath.Join(workDir, profile.UsageFile)); ok {
		runResult.WallTimeMs = wallMs
		runResult.MemoryKB = memoryKB
	}
	return runResult, nil
}

// readUsage parses the "wall_ms,maxrss_kb" record left by the stub.
func readUsage(path string) (int64, int64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	wallRaw, memRaw, found := strings.Cut(strings.TrimSpace(string(data)), ",")
	if !found {
		return 0, 0, false
	}
	wallMs, err := strconv.ParseInt(wallRaw, 10, 64)
	if err != nil || wallMs < 0 {
		return 0, 0, false
	}
	memoryKB, err := strconv.ParseInt(memRaw, 10, 64)
	if err != nil || memoryKB < 0 {
		return 0, 0, false
	}
	return wallMs, memoryKB, true
}

func buildCommand(tpl string, lang profile.LanguageSpec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.NewReplacer(
		"{src}", lang.SourceFile,
		"{bin}", lang.BinaryFile,
		"{entry}", lang.EntryFile,
	).Replace(tpl)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func validateRequest(req Request) error {
	if req.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if req.TimeLimitSec <= 0 {
		return appErr.ValidationError("time_limit", "must be positive")
	}
	if req.MemoryLimitMB <= 0 {
		return appErr.ValidationError("memory_limit", "must be positive")
	}
	return nil
}
