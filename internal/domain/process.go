package domain

import "time"

// BackendState represents the lifecycle state of the supervised backend process.
type BackendState string

const (
	BackendStateIdle     BackendState = "idle"
	BackendStateStarting BackendState = "starting"
	BackendStateReady    BackendState = "ready"
	BackendStateRunning  BackendState = "running" // alive, readiness not observed
	BackendStateExited   BackendState = "exited"
	BackendStateFailed   BackendState = "failed"
	BackendStateStopped  BackendState = "stopped"
	BackendStateExternal BackendState = "external" // not spawned by us
)

// Alive reports whether the process is expected to be running.
func (s BackendState) Alive() bool {
	switch s {
	case BackendStateStarting, BackendStateReady, BackendStateRunning:
		return true
	}
	return false
}

// BackendStatus is a snapshot of the supervised backend process.
type BackendStatus struct {
	RunID       string       `json:"run_id,omitempty"`
	State       BackendState `json:"state"`
	PID         int          `json:"pid,omitempty"`
	Executable  string       `json:"executable,omitempty"`
	Script      string       `json:"script,omitempty"`
	WorkDir     string       `json:"workdir,omitempty"`
	ExitCode    *int         `json:"exit_code,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	StderrTail  string       `json:"stderr_tail,omitempty"`
	StderrBytes int64        `json:"stderr_bytes,omitempty"` // total written, including what the tail dropped
	Error       string       `json:"error,omitempty"`
}

// BreakerStatus is a snapshot of the circuit breaker in front of the backend.
type BreakerStatus struct {
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	TotalFailures       uint32 `json:"total_failures"`
}

// BackendLifecyclePayload is carried by the backend.* events.
type BackendLifecyclePayload struct {
	RunID    string `json:"run_id"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LaunchSpec is the resolved command line for the backend. Resolution from
// the packaging layout happens before the supervisor sees it.
type LaunchSpec struct {
	Executable string   `json:"executable"`
	Script     string   `json:"script,omitempty"`
	WorkDir    string   `json:"workdir,omitempty"`
	Args       []string `json:"args,omitempty"` // appended after Script
	Env        []string `json:"env,omitempty"`  // appended to the parent environment
	Mode       string   `json:"mode"`
}

// External reports whether the backend is managed outside this process.
func (s LaunchSpec) External() bool { return s.Executable == "" }

// Argv returns the arguments passed to Executable.
func (s LaunchSpec) Argv() []string {
	argv := make([]string, 0, len(s.Args)+1)
	if s.Script != "" {
		argv = append(argv, s.Script)
	}
	return append(argv, s.Args...)
}
