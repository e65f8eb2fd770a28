package game

import (
	"sync"
	"time"
)

// Scheduler runs fn every d until the returned stop func is called.
// stop must be idempotent. fn may still run once after stop returns if a
// tick was already in flight; callers guard with a generation check.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

// TickerScheduler is the wall-clock Scheduler backed by time.Ticker.
type TickerScheduler struct{}

// Every implements Scheduler.
func (TickerScheduler) Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
		})
	}
}

// countdown is the single per-session player timer. Every start bumps gen so
// ticks from a superseded timer are dropped. Time spent in a partial second
// before a cancel is kept in carry, so pausing and resuming the timer does
// not reset the tick phase. Not safe for concurrent use; the engine mutex
// guards it.
type countdown struct {
	sched Scheduler
	now   func() time.Time
	stop  func()
	gen   uint64
	mark  time.Time // last start or tick
	carry time.Duration
}

func (c *countdown) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// start cancels any running timer and schedules onTick once per second.
// onTick receives the generation it was started under.
func (c *countdown) start(onTick func(gen uint64)) {
	c.cancel()
	gen := c.gen
	c.mark = c.clock()
	c.stop = c.sched.Every(time.Second, func() { onTick(gen) })
}

// cancel stops the running timer, if any. Safe to call repeatedly.
func (c *countdown) cancel() {
	if c.stop != nil {
		c.carry += c.clock().Sub(c.mark)
		c.stop()
		c.stop = nil
	}
	c.gen++
}

// ticked marks a whole second as counted.
func (c *countdown) ticked() { c.mark = c.clock() }

// clear drops the carried partial second.
func (c *countdown) clear() { c.carry = 0 }

// takeSecond consumes one carried second, if a full one has accumulated.
func (c *countdown) takeSecond() bool {
	if c.carry < time.Second {
		return false
	}
	c.carry -= time.Second
	return true
}

func (c *countdown) current(gen uint64) bool { return c.stop != nil && gen == c.gen }
