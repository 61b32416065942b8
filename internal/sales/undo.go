package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type undoStep struct {
	name string
	fn   func(context.Context) error
}

// undoLog collects compensations for a sale in progress. Unwinding runs them
// newest first and keeps going past failures.
type undoLog struct {
	steps []undoStep
	log   *slog.Logger
}

func (u *undoLog) push(name string, fn func(context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// unwind is detached from ctx cancellation: a timed out request still has to
// release what it took. Steps are dropped once run, so a second unwind is a
// no-op.
func (u *undoLog) unwind(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			u.log.Error("compensation failed", "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		u.log.Debug("compensation applied", "step", step.name)
	}
	u.steps = nil
	return errors.Join(errs...)
}
