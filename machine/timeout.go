package machine

import (
	"context"
	"errors"
	"time"
)

// withRunTimeout bounds the wall time of a whole exploration. A zero
// timeout leaves ctx unchanged.
func withRunTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// timeBudgetSpent reports whether err is the exploration time budget
// running out. Spending the budget ends exploration without an error; the
// interrupted iteration is discarded.
func (e *Engine) timeBudgetSpent(err error) bool {
	return e.opts.Timeout > 0 && errors.Is(err, context.DeadlineExceeded)
}
