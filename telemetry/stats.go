// Package telemetry provides step statistics, per-pass timing, bookmarks and
// snapshots for a running scene.
package telemetry

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/sph"
)

// StepStats holds aggregated statistics for a window of steps, sampled at
// the window end.
type StepStats struct {
	WindowStartTick int64   `csv:"-"`
	WindowEndTick   int64   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Steps taken and kinematic moves applied during the window
	Steps   int `csv:"steps"`
	Skipped int `csv:"skipped"`
	Moves   int `csv:"moves"`

	FluidCount    int `csv:"fluid"`
	SolidCount    int `csv:"solid"`
	BoundaryCount int `csv:"boundary"`

	// Fluid density distribution
	DensityMean float64 `csv:"density_mean"`
	DensityP10  float64 `csv:"density_p10"`
	DensityP50  float64 `csv:"density_p50"`
	DensityP90  float64 `csv:"density_p90"`
	DensityMax  float64 `csv:"density_max"`

	KineticEnergy float64 `csv:"kinetic_energy"`
	MaxSpeed      float64 `csv:"max_speed"`

	// Fluid particles outside the boundary bounds
	Leaked int `csv:"leaked"`

	SolidX float64 `csv:"solid_x"`
	SolidY float64 `csv:"solid_y"`
	SolidZ float64 `csv:"solid_z"`

	GridOccupied   int `csv:"grid_occupied"`
	GridMaxPerCell int `csv:"grid_max_per_cell"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDensityStats calculates mean, max and percentiles of densities.
func ComputeDensityStats(values []float64) (mean, p10, p50, p90, max float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	return mean, Percentile(sorted, 0.10), Percentile(sorted, 0.50), Percentile(sorted, 0.90), sorted[n-1]
}

// Collect samples the bodies into a StepStats. solid may be nil. The window
// fields are left for the caller.
func Collect(fluid *bodies.FluidBody, solid *bodies.SolidBody, boundary *bodies.BoundaryBody, grid sph.GridStats) StepStats {
	var s StepStats

	if fluid != nil && !fluid.Disposed() {
		s.FluidCount = fluid.NumParticles
		s.DensityMean, s.DensityP10, s.DensityP50, s.DensityP90, s.DensityMax = ComputeDensityStats(fluid.Densities)

		var maxSpeed2 float64
		for _, v := range fluid.Velocities.Read() {
			v2 := r3.Norm2(v.Vec3())
			s.KineticEnergy += 0.5 * fluid.ParticleMass * v2
			maxSpeed2 = math.Max(maxSpeed2, v2)
		}
		s.MaxSpeed = math.Sqrt(maxSpeed2)

		if boundary != nil && !boundary.Disposed() {
			for _, p := range fluid.Positions {
				if !boundary.Bounds.Contains(p.Vec3()) {
					s.Leaked++
				}
			}
		}
	}

	if solid != nil && !solid.Disposed() {
		s.SolidCount = solid.NumParticles
		c := bodies.Centroid(solid.Positions)
		s.SolidX, s.SolidY, s.SolidZ = c.X, c.Y, c.Z
	}

	if boundary != nil && !boundary.Disposed() {
		s.BoundaryCount = boundary.NumParticles
	}

	s.GridOccupied = grid.OccupiedCells
	s.GridMaxPerCell = grid.MaxPerCell
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("window_start", s.WindowStartTick),
		slog.Int64("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("steps", s.Steps),
		slog.Int("skipped", s.Skipped),
		slog.Int("moves", s.Moves),
		slog.Int("fluid", s.FluidCount),
		slog.Int("solid", s.SolidCount),
		slog.Int("boundary", s.BoundaryCount),
		slog.Float64("density_mean", s.DensityMean),
		slog.Float64("density_p10", s.DensityP10),
		slog.Float64("density_p50", s.DensityP50),
		slog.Float64("density_p90", s.DensityP90),
		slog.Float64("density_max", s.DensityMax),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("max_speed", s.MaxSpeed),
		slog.Int("leaked", s.Leaked),
		slog.Float64("solid_x", s.SolidX),
		slog.Float64("solid_y", s.SolidY),
		slog.Float64("solid_z", s.SolidZ),
		slog.Int("grid_occupied", s.GridOccupied),
		slog.Int("grid_max_per_cell", s.GridMaxPerCell),
	)
}

// LogStats logs the window stats using slog.
func (s StepStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"steps", s.Steps,
		"moves", s.Moves,
		"fluid", s.FluidCount,
		"solid", s.SolidCount,
		"density_mean", s.DensityMean,
		"density_p90", s.DensityP90,
		"density_max", s.DensityMax,
		"kinetic_energy", s.KineticEnergy,
		"max_speed", s.MaxSpeed,
		"leaked", s.Leaked,
		"solid_y", s.SolidY,
		"grid_occupied", s.GridOccupied,
	)
}
