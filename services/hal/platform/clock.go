package platform

import (
	"context"
	"time"

	"echonode-go/services/hal/halcore"
	"echonode-go/x/timex"
)

// MonoClock derives the radio tick base from the monotonic clock.
type MonoClock struct{ t0 time.Time }

func NewMonoClock() *MonoClock { return &MonoClock{t0: time.Now()} }

func (c *MonoClock) Now() halcore.Ticks { return timex.FromDuration(time.Since(c.t0)) }

// SleepUntil blocks until t or ctx ends. A time already passed returns at once.
func (c *MonoClock) SleepUntil(ctx context.Context, t halcore.Ticks) error {
	d := t.Sub(c.Now())
	if d <= 0 {
		return ctx.Err()
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-tm.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
