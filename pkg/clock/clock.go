// Package clock provides the runtime's notion of time: a speed-scalable
// clock used by the rectifier to convert between wall-clock
// time and the 180000Hz tick rate shared by every timestamp in the system.
package clock

import (
	"context"
	"time"

	"github.com/streamgraph-io/streamgraph/pkg/fraction"
)

// Rate is the tick rate, in ticks per second, that every PTS/DTS in the
// system is expressed against.
const Rate = 180000

// Clock reports elapsed time since it was created, scaled by Speed, and
// can sleep a caller for a duration of that scaled time.
type Clock interface {
	// Now returns the elapsed time since the clock started, as seconds.
	Now() fraction.Fraction
	// NowTicks returns Now converted to Rate ticks.
	NowTicks() int64
	// Speed returns the playback speed; 0 pauses the clock, 1 is real time.
	Speed() float64
	// Sleep blocks for d of clock time (scaled by Speed), or until ctx is
	// done. A speed of 0 returns immediately: sleeping against a paused
	// clock would never wake.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is a real-time clock anchored at the moment it is constructed.
type System struct {
	start time.Time
	speed float64
}

// NewSystem returns a Clock ticking at the given speed, anchored to now.
// A speed of 1.0 tracks wall-clock time; 0 freezes it.
func NewSystem(speed float64) *System {
	return &System{start: time.Now(), speed: speed}
}

func (c *System) Now() fraction.Fraction {
	elapsed := time.Since(c.start)
	scaledMs := c.speed * float64(elapsed.Milliseconds())
	return fraction.New(int64(scaledMs), 1000)
}

func (c *System) NowTicks() int64 {
	return c.Now().ToTicks(Rate)
}

func (c *System) Speed() float64 {
	return c.speed
}

func (c *System) Sleep(ctx context.Context, d time.Duration) error {
	if c.speed <= 0.0 {
		return nil
	}
	scaled := time.Duration(float64(d) / c.speed)
	timer := time.NewTimer(scaled)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// defaultClock is the process-wide real-time clock at normal speed,
// mirroring the teacher's package-level g_DefaultClock singleton.
var defaultClock = NewSystem(1.0)

// Default returns the shared real-time clock.
func Default() *System {
	return defaultClock
}
