package offsync

import "time"

// Logger provides structured logging hooks.
// *slog.Logger satisfies it.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)
	// Info logs an informational message.
	Info(msg string, args ...any)
	// Warn logs a warning message.
	Warn(msg string, args ...any)
	// Error logs an error message.
	Error(msg string, args ...any)
}

// NopLogger is a no-op logger.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, ...any) {}

// Metrics captures engine-level telemetry.
type Metrics interface {
	// ObserveCycleDuration records the time a sync cycle took.
	ObserveCycleDuration(duration time.Duration)
	// AddPushed increments the count of items the server accepted.
	AddPushed(count int)
	// AddRetries increments the count of items returned to pending.
	AddRetries(count int)
	// AddPermanentFailures increments the count of items moved to failed.
	AddPermanentFailures(count int)
	// AddConflicts increments the count of server-resolved conflicts.
	AddConflicts(count int)
	// AddApplied increments the count of remote changes applied locally.
	AddApplied(count int)
	// SetPending updates the current pending item count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveCycleDuration implements Metrics.
func (NopMetrics) ObserveCycleDuration(time.Duration) {}

// AddPushed implements Metrics.
func (NopMetrics) AddPushed(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddPermanentFailures implements Metrics.
func (NopMetrics) AddPermanentFailures(int) {}

// AddConflicts implements Metrics.
func (NopMetrics) AddConflicts(int) {}

// AddApplied implements Metrics.
func (NopMetrics) AddApplied(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
