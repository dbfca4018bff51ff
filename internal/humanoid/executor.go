// Filename: internal/humanoid/executor.go
package humanoid

import (
	"context"
	"time"
)

// Executor is the slice of a page the humanoid needs to act on it. Browser
// pages satisfy it directly; tests provide fakes.
type Executor interface {
	MouseMove(ctx context.Context, x, y float64) error
	ElementCenter(ctx context.Context, selector string) (x, y float64, err error)
	Scroll(ctx context.Context, dx, dy float64) error
	KeyPress(ctx context.Context, r rune) error
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
