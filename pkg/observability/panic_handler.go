package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack. Call it deferred
// at the top of background goroutines such as scheduled jobs and mail delivery:
//
//	defer observability.RecoverPanic(logger, "otp sweep")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback is RecoverPanic plus a callback that runs only when a panic occurred
func RecoverPanicWithCallback(logger *Logger, where string, callback func()) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered value into an error, nil when r is nil
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger *Logger, where string, r interface{}) {
	if logger == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
