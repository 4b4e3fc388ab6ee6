package telemetry

import (
	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/sph"
)

// Collector counts step events within time windows and produces StepStats.
type Collector struct {
	windowDurationTicks int64
	dt                  float64

	windowStartTick int64

	steps   int
	skipped int
	moves   int
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec, dt float64) *Collector {
	var ticks int64 = 1
	if dt > 0 {
		ticks = int64(windowDurationSec / dt)
	}
	if ticks < 1 {
		ticks = 1
	}
	return &Collector{
		windowDurationTicks: ticks,
		dt:                  dt,
	}
}

// RecordStep records a completed step. A skipped step is one that was a
// no-op because of a degenerate dt or iteration count.
func (c *Collector) RecordStep(skipped bool) {
	if skipped {
		c.skipped++
		return
	}
	c.steps++
}

// RecordMove records a kinematic move of the solid.
func (c *Collector) RecordMove() {
	c.moves++
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// Flush samples the bodies, produces a StepStats and resets the counters
// for the next window. solid may be nil.
func (c *Collector) Flush(
	currentTick int64,
	fluid *bodies.FluidBody,
	solid *bodies.SolidBody,
	boundary *bodies.BoundaryBody,
	grid sph.GridStats,
) StepStats {
	stats := Collect(fluid, solid, boundary, grid)
	stats.WindowStartTick = c.windowStartTick
	stats.WindowEndTick = currentTick
	stats.SimTimeSec = float64(currentTick) * c.dt
	stats.Steps = c.steps
	stats.Skipped = c.skipped
	stats.Moves = c.moves

	c.windowStartTick = currentTick
	c.steps = 0
	c.skipped = 0
	c.moves = 0

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int64 {
	return c.windowDurationTicks
}
