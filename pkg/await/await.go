// Package await blocks on an external condition with a timeout and cancellation.
package await

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the condition is not met before the deadline
var ErrTimeout = errors.New("await: timed out")

// Condition reports done=true when the awaited state is reached. A non-nil
// error stops the wait immediately.
type Condition func(ctx context.Context) (done bool, err error)

// Until evaluates cond immediately and then every interval until it returns
// done, returns an error, the timeout elapses or ctx is cancelled. A
// non-positive timeout waits on ctx alone.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
