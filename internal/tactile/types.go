// Package tactile runs the external commands promptrun depends on: the
// stale-artifact removal and the per-target profiling build.
//
// Design Principles:
//   - Explicit context: working directory and environment travel with each
//     Command; the process never changes its own directory or environment
//   - Blocking: Execute returns only after the child has exited
//   - Exit status is data: a non-zero exit is reported in the result, not as an error
//   - Audit trail: start/complete/killed/error events for logging and metrics
package tactile

import (
	"io"
	"os"
	"strings"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "make", "rm").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment holds KEY=VALUE entries layered over the inherited
	// process environment. Later entries win.
	Environment []string `json:"environment,omitempty"`

	// Timeout bounds the run. Zero uses the executor default, which is none.
	Timeout time.Duration `json:"timeout,omitempty"`

	// RequestID uniquely identifies this execution request.
	RequestID string `json:"request_id,omitempty"`

	// Tags are arbitrary key-value pairs for categorization and audit.
	Tags map[string]string `json:"tags,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult is the outcome of one command.
type ExecutionResult struct {
	// Success indicates the command ran to completion.
	// A command that exits non-zero still has Success=true; Success=false
	// means it could not be started or waited on.
	Success bool `json:"success"`

	// ExitCode is the command's exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	// Stdout and Stderr hold the first MaxCaptureBytes of each stream.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed indicates the command was terminated by timeout or cancellation.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	// Truncated indicates captured output was cut at MaxCaptureBytes.
	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// ResourceUsage contains resource consumption metrics (if available).
	ResourceUsage *ResourceUsage `json:"resource_usage,omitempty"`

	// Error contains any infrastructure-level error message.
	Error string `json:"error,omitempty"`

	// Command is a copy of the command that was executed (for audit).
	Command *Command `json:"command,omitempty"`
}

// IsError returns true if the execution failed (infrastructure error).
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Error != ""
}

// IsNonZeroExit returns true if the command ran but returned non-zero.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && r.ExitCode != 0
}

// OK reports a clean run: started, not killed, exit 0.
func (r *ExecutionResult) OK() bool {
	return r.Success && !r.Killed && r.ExitCode == 0
}

// Output returns Stdout+Stderr.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ResourceUsage contains metrics about resource consumption.
type ResourceUsage struct {
	UserTimeMs   int64 `json:"user_time_ms"`
	SystemTimeMs int64 `json:"system_time_ms"`
	MaxRSSBytes  int64 `json:"max_rss_bytes"`
}

// TotalCPUTimeMs returns total CPU time (user + system).
func (r *ResourceUsage) TotalCPUTimeMs() int64 {
	return r.UserTimeMs + r.SystemTimeMs
}

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
)

// AuditEvent represents one step in a command's lifecycle.
type AuditEvent struct {
	Type      AuditEventType   `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Command   Command          `json:"command"`
	Result    *ExecutionResult `json:"result,omitempty"`

	// ExecutorName is which executor handled this.
	ExecutorName string `json:"executor_name"`
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string `json:"default_working_dir"`

	// DefaultTimeout is used when Command.Timeout is zero. Zero means none.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// MaxCaptureBytes limits how much of each stream is kept in the result.
	MaxCaptureBytes int64 `json:"max_capture_bytes"`

	// Stdout and Stderr receive the child's output as it is produced.
	// Nil discards it (the capture is still kept).
	Stdout io.Writer `json:"-"`
	Stderr io.Writer `json:"-"`

	// EnableResourceUsage enables collection of resource usage metrics.
	EnableResourceUsage bool `json:"enable_resource_usage"`
}

// DefaultExecutorConfig streams to the terminal like an interactive make.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultWorkingDir:   ".",
		DefaultTimeout:      0,
		MaxCaptureBytes:     1024 * 1024, // 1MB
		Stdout:              os.Stdout,
		Stderr:              os.Stderr,
		EnableResourceUsage: true,
	}
}

// Merge applies config defaults to a command.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd

	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}
	if result.Timeout == 0 {
		result.Timeout = c.DefaultTimeout
	}

	return result
}
