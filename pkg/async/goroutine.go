package async

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/examcore/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and a timeout. The task keeps
// the parent's values but not its cancellation, so work queued from a request
// handler (mail delivery, cache writes) outlives the response.
//
//	async.SafeGo(r.Context(), logger, 30*time.Second, "reset password mail", func(ctx context.Context) error {
//	    return sender.Send(ctx, msg)
//	})
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go Run(parent, logger, timeout, taskName, fn)
}

// Run is the synchronous body of SafeGo. It returns fn's error, or a panic converted to one.
func Run(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", taskName, r)
			if logger != nil {
				logger.WithField("task", taskName).WithField("panic", fmt.Sprint(r)).Error("background task panicked")
			}
		}
	}()

	if err = fn(ctx); err != nil && logger != nil {
		logger.WithError(err).WithField("task", taskName).Warn("background task failed")
	}
	return err
}
