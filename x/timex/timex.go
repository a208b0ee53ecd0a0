package timex

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// NowMs returns Unix milliseconds from clk as int64.
func NowMs(clk clock.Clock) int64 { return clk.Now().UnixMilli() }

// Sleep suspends for d on clk, returning early with ctx.Err() if ctx ends.
// Non-positive durations return immediately.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OrDefault returns clk, or the wall clock when clk is nil.
func OrDefault(clk clock.Clock) clock.Clock {
	if clk == nil {
		return clock.New()
	}
	return clk
}
