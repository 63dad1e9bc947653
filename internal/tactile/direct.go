package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"promptrun/internal/build"
	"promptrun/internal/logging"
)

// DirectExecutor executes commands directly on the host using os/exec.
// The child inherits the full process environment plus Command.Environment.
type DirectExecutor struct {
	mu     sync.RWMutex
	config ExecutorConfig

	// auditCallback is called for execution events
	auditCallback func(AuditEvent)
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.TactileDebug("Creating DirectExecutor with config: timeout=%s, maxCapture=%d bytes",
		config.DefaultTimeout, config.MaxCaptureBytes)
	return &DirectExecutor{
		config: config,
	}
}

// SetAuditCallback sets the callback for audit events.
func (e *DirectExecutor) SetAuditCallback(callback func(AuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditCallback = callback
}

// emitAudit emits an audit event if a callback is registered.
func (e *DirectExecutor) emitAudit(eventType AuditEventType, cmd Command, result *ExecutionResult) {
	e.mu.RLock()
	callback := e.auditCallback
	e.mu.RUnlock()

	if callback != nil {
		callback(AuditEvent{
			Type:         eventType,
			Timestamp:    time.Now(),
			Command:      cmd,
			Result:       result,
			ExecutorName: "direct",
		})
	}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", cmd.Timeout)
	}
	return nil
}

// Execute runs a command on the host and waits for it to exit.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "Direct command execution")
	defer timer.Stop()

	logging.Tactile("Executing command: %s", cmd.CommandString())

	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("Command validation failed: %s %v - %v", cmd.Binary, cmd.Arguments, err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)

	logging.TactileDebug("Executing: %s %v (dir=%s, env+=%v, timeout=%s)",
		cmd.Binary, cmd.Arguments, cmd.WorkingDirectory, cmd.Environment, cmd.Timeout)

	result := &ExecutionResult{
		ExitCode: -1,
		Command:  &cmd,
	}

	e.emitAudit(AuditEventStart, cmd, nil)

	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if cmd.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
	}
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = build.ProcessEnv(cmd.Environment...)
	execCmd.Stdin = os.Stdin

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: e.config.MaxCaptureBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: e.config.MaxCaptureBytes}

	execCmd.Stdout = teeWriter(e.config.Stdout, stdoutLimited)
	execCmd.Stderr = teeWriter(e.config.Stderr, stderrLimited)

	result.StartedAt = time.Now()
	logging.TactileDebug("Starting process: %s", cmd.Binary)

	err := execCmd.Run()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.TactileDebug("Captured output truncated: %d bytes not kept", result.TruncatedBytes)
	}

	eventType := AuditEventComplete
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", cmd.Timeout)
			result.Success = true
			logging.TactileWarn("Command killed (timeout): %s after %s", cmd.Binary, cmd.Timeout)
			eventType = AuditEventKilled
		case errors.Is(execCtx.Err(), context.Canceled):
			result.Killed = true
			result.KillReason = "context canceled"
			result.Success = true
			logging.TactileDebug("Command canceled: %s", cmd.Binary)
			eventType = AuditEventKilled
		case errors.As(err, &exitErr):
			result.Success = true
			result.ExitCode = exitErr.ExitCode()
			logging.TactileDebug("Command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
		default:
			result.Success = false
			result.Error = err.Error()
			logging.TactileError("Command failed: %s - %v", cmd.Binary, err)
			e.emitAudit(AuditEventError, cmd, result)
			return result, nil
		}
	} else {
		result.Success = true
		result.ExitCode = 0
		logging.TactileDebug("Command succeeded with exit code 0")
	}

	result.ResourceUsage = e.getResourceUsage(execCmd)

	e.emitAudit(eventType, cmd, result)

	logging.Tactile("Command completed: %s -> exit=%d, duration=%s, stdout=%d bytes",
		cmd.Binary, result.ExitCode, result.Duration, len(result.Stdout))

	return result, nil
}

// getResourceUsage extracts resource usage from the command.
// Platform-specific implementations are in platform_*.go
func (e *DirectExecutor) getResourceUsage(cmd *exec.Cmd) *ResourceUsage {
	if !e.config.EnableResourceUsage {
		return nil
	}
	return getProcessResourceUsage(cmd)
}

// teeWriter sends output to the live stream (if any) and the capture.
func teeWriter(live io.Writer, capture io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(live, capture)
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
