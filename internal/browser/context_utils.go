// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext derives a context from primary (which carries the chromedp
// target) that is also canceled when operational is done. The cause of an
// operational cancellation, such as context.DeadlineExceeded, is preserved
// and can be read with context.Cause.
func CombineContext(primary, operational context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(operational, func() {
		cancel(context.Cause(operational))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// runErr prefers the cancellation cause over chromedp's generic error once
// the operation context is done, so callers can tell a timeout from a failure.
func runErr(runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if runCtx.Err() != nil {
		if cause := context.Cause(runCtx); cause != nil {
			return cause
		}
	}
	return err
}
