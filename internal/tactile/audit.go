package tactile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLogger fans execution events out to callbacks, an optional JSON Lines
// file and a metrics tracker.
type AuditLogger struct {
	mu sync.RWMutex

	callbacks  []func(AuditEvent)
	fileLogger *AuditFileLogger
	metrics    *ExecutionMetrics
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{
		callbacks: make([]func(AuditEvent), 0),
		metrics:   NewExecutionMetrics(),
	}
}

// AddCallback adds a callback function for audit events.
func (l *AuditLogger) AddCallback(callback func(AuditEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// EnableFileLogging appends every event to path as one JSON object per line.
func (l *AuditLogger) EnableFileLogging(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fl, err := NewAuditFileLogger(path)
	if err != nil {
		return err
	}
	l.fileLogger = fl
	return nil
}

// Close closes the audit logger and any file handles.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLogger != nil {
		return l.fileLogger.Close()
	}
	return nil
}

// Log logs an audit event.
func (l *AuditLogger) Log(event AuditEvent) {
	l.mu.RLock()
	callbacks := l.callbacks
	fileLogger := l.fileLogger
	metrics := l.metrics
	l.mu.RUnlock()

	if metrics != nil {
		metrics.RecordEvent(event)
	}

	for _, cb := range callbacks {
		cb(event)
	}

	if fileLogger != nil {
		_ = fileLogger.Write(event)
	}
}

// GetMetrics returns the current execution metrics.
func (l *AuditLogger) GetMetrics() ExecutionMetricsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.metrics == nil {
		return ExecutionMetricsSnapshot{}
	}
	return l.metrics.Snapshot()
}

// AuditFileLogger writes audit events to a file in JSON Lines format.
type AuditFileLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewAuditFileLogger creates a new file logger.
func NewAuditFileLogger(path string) (*AuditFileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &AuditFileLogger{
		file: file,
		path: path,
	}, nil
}

// Write writes an event to the log file.
func (l *AuditFileLogger) Write(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit file not open")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = l.file.Write(append(data, '\n'))
	return err
}

// Close closes the log file.
func (l *AuditFileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ExecutionMetrics tracks aggregate execution statistics.
type ExecutionMetrics struct {
	mu sync.RWMutex

	totalExecutions int64
	cleanExits      int64
	nonZeroExits    int64
	failedStarts    int64
	killed          int64

	totalDurationMs int64
	totalCPUTimeMs  int64
	peakRSSBytes    int64

	executionsByBinary map[string]int64

	lastEventTime time.Time
}

// NewExecutionMetrics creates a new metrics tracker.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{
		executionsByBinary: make(map[string]int64),
	}
}

// RecordEvent updates metrics based on an audit event.
func (m *ExecutionMetrics) RecordEvent(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventTime = event.Timestamp

	switch event.Type {
	case AuditEventStart:
		m.totalExecutions++
		m.executionsByBinary[event.Command.Binary]++

	case AuditEventComplete:
		if event.Result == nil {
			break
		}
		if event.Result.ExitCode == 0 {
			m.cleanExits++
		} else {
			m.nonZeroExits++
		}
		m.totalDurationMs += event.Result.Duration.Milliseconds()
		if ru := event.Result.ResourceUsage; ru != nil {
			m.totalCPUTimeMs += ru.TotalCPUTimeMs()
			if ru.MaxRSSBytes > m.peakRSSBytes {
				m.peakRSSBytes = ru.MaxRSSBytes
			}
		}

	case AuditEventKilled:
		m.killed++
		if event.Result != nil {
			m.totalDurationMs += event.Result.Duration.Milliseconds()
		}

	case AuditEventError:
		m.failedStarts++
	}
}

// ExecutionMetricsSnapshot is a point-in-time snapshot of metrics.
type ExecutionMetricsSnapshot struct {
	TotalExecutions    int64            `json:"total_executions"`
	CleanExits         int64            `json:"clean_exits"`
	NonZeroExits       int64            `json:"nonzero_exits"`
	FailedStarts       int64            `json:"failed_starts"`
	Killed             int64            `json:"killed"`
	TotalDurationMs    int64            `json:"total_duration_ms"`
	TotalCPUTimeMs     int64            `json:"total_cpu_time_ms"`
	PeakRSSBytes       int64            `json:"peak_rss_bytes"`
	ExecutionsByBinary map[string]int64 `json:"executions_by_binary"`
	LastEventTime      time.Time        `json:"last_event_time"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byBinary := make(map[string]int64, len(m.executionsByBinary))
	for k, v := range m.executionsByBinary {
		byBinary[k] = v
	}

	return ExecutionMetricsSnapshot{
		TotalExecutions:    m.totalExecutions,
		CleanExits:         m.cleanExits,
		NonZeroExits:       m.nonZeroExits,
		FailedStarts:       m.failedStarts,
		Killed:             m.killed,
		TotalDurationMs:    m.totalDurationMs,
		TotalCPUTimeMs:     m.totalCPUTimeMs,
		PeakRSSBytes:       m.peakRSSBytes,
		ExecutionsByBinary: byBinary,
		LastEventTime:      m.lastEventTime,
	}
}

// AuditedExecutor routes an executor's events into an AuditLogger.
type AuditedExecutor struct {
	inner  Executor
	logger *AuditLogger
}

// NewAuditedExecutor wraps inner. If inner supports audit callbacks the
// events come from it; otherwise start/complete are synthesized here.
func NewAuditedExecutor(inner Executor, logger *AuditLogger) *AuditedExecutor {
	a := &AuditedExecutor{inner: inner, logger: logger}
	if ae, ok := inner.(AuditedExecutorInterface); ok {
		ae.SetAuditCallback(logger.Log)
	}
	return a
}

// Validate delegates to the wrapped executor.
func (a *AuditedExecutor) Validate(cmd Command) error {
	return a.inner.Validate(cmd)
}

// Execute delegates to the wrapped executor.
func (a *AuditedExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if _, ok := a.inner.(AuditedExecutorInterface); ok {
		return a.inner.Execute(ctx, cmd)
	}

	a.logger.Log(AuditEvent{Type: AuditEventStart, Timestamp: time.Now(), Command: cmd, ExecutorName: "wrapped"})
	result, err := a.inner.Execute(ctx, cmd)
	if err != nil {
		return result, err
	}

	eventType := AuditEventComplete
	switch {
	case result.Killed:
		eventType = AuditEventKilled
	case !result.Success:
		eventType = AuditEventError
	}
	a.logger.Log(AuditEvent{Type: eventType, Timestamp: time.Now(), Command: cmd, Result: result, ExecutorName: "wrapped"})
	return result, nil
}

// Metrics returns the logger's current metrics.
func (a *AuditedExecutor) Metrics() ExecutionMetricsSnapshot {
	return a.logger.GetMetrics()
}
