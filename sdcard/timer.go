package sdcard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ardnew/sdbridge/pkg"
)

// TickPeriod is the cadence TimerService must be called at. All wait
// budgets are expressed in these ticks.
const TickPeriod = 10 * time.Millisecond

// Wait budgets in milliseconds.
const (
	readyTimeout  = 500   // Card busy after select or before a data block
	tokenTimeout  = 200   // Data token after a read command
	initTimeout   = 1000  // Leaving the idle state
	powerOffDelay = 100   // Supply discharge before re-powering
	eraseTimeout  = 30000 // Busy after ERASE
	isdioTimeout  = 1000  // Data token after READ_EXTR_SINGLE
	msPerTick     = 10
)

func ticks(ms uint32) uint32 { return ms / msPerTick }

// Timer is a down-counter in TickPeriod units. The foreground arms it and
// polls it; only the periodic service decrements it, never below zero.
type Timer struct {
	n atomic.Uint32
}

// Arm loads the counter.
func (t *Timer) Arm(ticks uint32) { t.n.Store(ticks) }

// Remaining returns the ticks left.
func (t *Timer) Remaining() uint32 { return t.n.Load() }

// Expired reports whether the counter reached zero.
func (t *Timer) Expired() bool { return t.n.Load() == 0 }

// Tick decrements the counter if it is not already zero.
func (t *Timer) Tick() {
	for {
		v := t.n.Load()
		if v == 0 || t.n.CompareAndSwap(v, v-1) {
			return
		}
	}
}

// Run calls TimerService every period (TickPeriod if zero) until ctx is
// done. It is the software stand-in for a 100 Hz timer interrupt.
func (c *Card) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = TickPeriod
	}
	t := time.NewTicker(period)
	defer t.Stop()
	pkg.LogDebug(pkg.ComponentTimer, "ticker started", "period", period)
	for {
		select {
		case <-ctx.Done():
			pkg.LogDebug(pkg.ComponentTimer, "ticker stopped", "cause", ctx.Err())
			return ctx.Err()
		case <-t.C:
			c.TimerService()
		}
	}
}
