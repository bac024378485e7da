// Package spec defines the execution specification and resource limits.
package spec

// ResourceLimit describes limits enforced around one process.
type ResourceLimit struct {
	CPUTimeMs  int64 `json:"cpu_time_ms,omitempty"`
	WallTimeMs int64 `json:"wall_time_ms,omitempty"`
	MemoryMB   int64 `json:"memory_mb,omitempty"`
	StackMB    int64 `json:"stack_mb,omitempty"`
	// FileSizeMB caps any file the process writes.
	FileSizeMB int64 `json:"file_size_mb,omitempty"`
	PIDs       int64 `json:"pids,omitempty"`
	// OutputBytes caps captured stdout and stderr.
	OutputBytes int64 `json:"output_bytes,omitempty"`
}

// RunSpec is the unified execution specification for one process.
type RunSpec struct {
	WorkDir string
	Cmd     []string
	Env     []string
	Stdin   []byte
	Limits  ResourceLimit
	// UseLauncher starts Cmd through the launcher binary when one is configured.
	UseLauncher bool
}

// LaunchRequest is the document the launcher reads before exec'ing the target.
type LaunchRequest struct {
	WorkDir        string        `json:"work_dir"`
	Cmd            []string      `json:"cmd"`
	Env            []string      `json:"env"`
	Limits         ResourceLimit `json:"limits"`
	SeccompProfile string        `json:"seccomp_profile,omitempty"`
}
