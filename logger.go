package persidict

import "fmt"

// Logger provides structured logging for PersiDict operations
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// conditionalFields renders the conditional protocol's three
// identifying facts - which key, what ETag was expected, which
// condition was applied - as a flat key-value slice, the shape every
// Logger method's fields... accepts. LogTransformConflict uses it, so
// the three fields appear in a fixed order and under fixed names; the
// other Log* helpers below pass their own fields directly.
func conditionalFields(key SafeKey, expected any, condition ETagCondition, extra ...interface{}) []interface{} {
	fields := []interface{}{"key", key.String(), "expected_etag", expected, "condition", condition.String()}
	return append(fields, extra...)
}

// LogTransformConflict logs a TransformEngine retry caused by a losing
// compare-and-swap: another writer's SetItemIf won the race between this
// attempt's GetItemIf and its own SetItemIf.
func LogTransformConflict(logger Logger, key SafeKey, attempt int, observedETag any) {
	logger.Warn("transform: conditional write lost race, retrying",
		conditionalFields(key, observedETag, ETagIsTheSame, "attempt", attempt)...)
}

// LogTransformExhausted logs a TransformEngine giving up after its retry
// budget ran out without a successful conditional write.
func LogTransformExhausted(logger Logger, key SafeKey, attempts int) {
	logger.Error("transform: retry budget exhausted", "key", key.String(), "attempts", attempts)
}

// LogLockAcquired logs a RedisCoordinator lock grant.
func LogLockAcquired(logger Logger, lockKey string, ttl interface{}) {
	logger.Debug("coordination: lock acquired", "lock_key", lockKey, "ttl", ttl)
}

// LogLockRetry logs a RedisCoordinator lock attempt that found the key
// already held and is about to back off before retrying.
func LogLockRetry(logger Logger, lockKey string, attempt int, backoff interface{}) {
	logger.Warn("coordination: lock held, backing off before retry", "lock_key", lockKey, "attempt", attempt, "backoff", backoff)
}

// NoOpLogger is a logger that does nothing
type NoOpLogger struct{}

// Debug logs a debug message (no-op implementation)
func (l *NoOpLogger) Debug(msg string, fields ...interface{}) {}

// Info logs an info message (no-op implementation)
func (l *NoOpLogger) Info(msg string, fields ...interface{}) {}

// Warn logs a warning message (no-op implementation)
func (l *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Error(msg string, fields ...interface{}) {}

// StdLogger writes one line per call with the builtin println
// This is a simple implementation for development
type StdLogger struct {
	prefix string
}

// NewStdLogger creates a logger that writes to standard error
func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{prefix: prefix}
}

// Debug logs a debug message to standard error
func (l *StdLogger) Debug(msg string, fields ...interface{}) {
	l.log("DEBUG", msg, fields...)
}

// Info logs an info message to standard error
func (l *StdLogger) Info(msg string, fields ...interface{}) {
	l.log("INFO", msg, fields...)
}

// Warn logs a warning message to standard error
func (l *StdLogger) Warn(msg string, fields ...interface{}) {
	l.log("WARN", msg, fields...)
}

func (l *StdLogger) Error(msg string, fields ...interface{}) {
	l.log("ERROR", msg, fields...)
}

func (l *StdLogger) log(level string, msg string, fields ...interface{}) {
	// Simple key-value formatting
	fieldStr := ""
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			fieldStr += " " + toString(fields[i]) + "=" + toString(fields[i+1])
		}
	}
	println(l.prefix + " [" + level + "] " + msg + fieldStr)
}

func toString(v interface{}) string {
	if v == nil {
		return "<nil>"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Production integrations:
//
// For go.uber.org/zap:
//   type ZapLogger struct { logger *zap.SugaredLogger }
//   func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
//       l.logger.Debugw(msg, fields...)
//   }
//
// For logrus:
//   type LogrusLogger struct { logger *logrus.Logger }
//   func (l *LogrusLogger) Debug(msg string, fields ...interface{}) {
//       l.logger.WithFields(toLogrusFields(fields)).Debug(msg)
//   }
