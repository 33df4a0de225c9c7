package log

import "sync/atomic"

type selfLogHolder struct {
	logger Logger
}

var selfLog atomic.Pointer[selfLogHolder]

// SetSelfLog installs the process-wide diagnostics logger. Passing nil
// restores the no-op default.
func SetSelfLog(l Logger) {
	if l == nil {
		selfLog.Store(nil)
		return
	}
	selfLog.Store(&selfLogHolder{logger: l})
}

// SelfLog returns the process-wide diagnostics logger.
func SelfLog() Logger {
	if h := selfLog.Load(); h != nil {
		return h.logger
	}
	return NoopLogger{}
}

// deferred forwards to whatever SelfLog returns at call time, so components
// built before SetSelfLog still reach the installed logger.
type deferred struct{}

// Deferred returns a Logger that resolves SelfLog on every call.
func Deferred() Logger {
	return deferred{}
}

func (deferred) Debug(msg string, fields ...Field) { SelfLog().Debug(msg, fields...) }
func (deferred) Info(msg string, fields ...Field)  { SelfLog().Info(msg, fields...) }
func (deferred) Warn(msg string, fields ...Field)  { SelfLog().Warn(msg, fields...) }
func (deferred) Error(msg string, fields ...Field) { SelfLog().Error(msg, fields...) }
