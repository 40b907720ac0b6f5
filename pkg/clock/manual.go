package clock

import (
	"context"
	"sync"
	"time"

	"github.com/streamgraph-io/streamgraph/pkg/fraction"
)

// Manual is a Clock driven entirely by Advance calls, for deterministic
// tests of schedulers and the rectifier without relying on wall-clock
// timing.
type Manual struct {
	mu      sync.Mutex
	elapsed fraction.Fraction
	speed   float64
	waiters []chan struct{}
}

// NewManual returns a Manual clock starting at zero.
func NewManual(speed float64) *Manual {
	return &Manual{speed: speed, elapsed: fraction.Zero}
}

func (c *Manual) Now() fraction.Fraction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *Manual) NowTicks() int64 {
	return c.Now().ToTicks(Rate)
}

func (c *Manual) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Advance moves the clock forward by d (at millisecond resolution) and
// wakes every pending Sleep call, whatever duration it asked for: a Sleep
// on a Manual clock returns at the next Advance or when its ctx is done,
// not after d of clock time.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	c.elapsed = c.elapsed.Add(fraction.New(d.Milliseconds(), 1000))
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (c *Manual) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	if c.speed <= 0.0 {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
