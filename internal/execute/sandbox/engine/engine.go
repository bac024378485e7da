package engine

import (
	"context"

	"rexe/internal/execute/sandbox/result"
	"rexe/internal/execute/sandbox/spec"
)

// Engine executes a RunSpec as a supervised child process.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	// LauncherPath is the rexe-init binary. Empty disables the launcher.
	LauncherPath   string `yaml:"launcherPath"`
	SeccompProfile string `yaml:"seccompProfile"`
	// OutputMaxBytes is the capture ceiling used when a RunSpec sets none.
	OutputMaxBytes int64 `yaml:"outputMaxBytes"`
}
