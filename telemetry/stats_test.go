package telemetry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/source"
	"github.com/pthm-cable/pbdfluid/sph"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestComputeDensityStats(t *testing.T) {
	values := []float64{1000, 900, 1100, 1000, 1000}
	mean, p10, p50, p90, max := ComputeDensityStats(values)

	if math.Abs(mean-1000) > 1e-9 {
		t.Errorf("mean = %v, want 1000", mean)
	}
	if p50 != 1000 {
		t.Errorf("p50 = %v, want 1000", p50)
	}
	if p10 >= p50 || p90 <= p50 {
		t.Errorf("percentiles out of order: %v %v %v", p10, p50, p90)
	}
	if max != 1100 {
		t.Errorf("max = %v, want 1100", max)
	}
	// Input is left unsorted.
	if values[1] != 900 {
		t.Error("ComputeDensityStats reordered its input")
	}

	mean, p10, p50, p90, max = ComputeDensityStats(nil)
	if mean != 0 || p10 != 0 || p50 != 0 || p90 != 0 || max != 0 {
		t.Error("empty slice should return all zeros")
	}
}

func box(min, max r3.Vec) components.Bounds { return components.NewBounds(min, max) }

func testBodies(t *testing.T) (*bodies.FluidBody, *bodies.SolidBody, *bodies.BoundaryBody) {
	t.Helper()
	opts := bodies.DefaultOptions(0.1, 1000)

	fsrc, err := source.NewFilled(0.2, box(r3.Vec{}, r3.Vec{X: 0.4, Y: 0.4, Z: 0.4}))
	if err != nil {
		t.Fatal(err)
	}
	fluid, err := bodies.NewFluid(fsrc, opts)
	if err != nil {
		t.Fatal(err)
	}

	ssrc, err := source.NewFilled(0.2, box(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 1.2, Y: 1.2, Z: 1.2}))
	if err != nil {
		t.Fatal(err)
	}
	solid, err := bodies.NewSolid(ssrc, opts)
	if err != nil {
		t.Fatal(err)
	}

	outer := box(r3.Vec{X: -1, Y: -1, Z: -1}, r3.Vec{X: 2, Y: 2, Z: 2})
	inner := box(r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}, r3.Vec{X: 1.5, Y: 1.5, Z: 1.5})
	bsrc, err := source.NewShell(0.5, outer, inner)
	if err != nil {
		t.Fatal(err)
	}
	boundary, err := bodies.NewBoundary(bsrc, opts, bodies.PsiConstant, nil)
	if err != nil {
		t.Fatal(err)
	}
	return fluid, solid, boundary
}

func TestCollect(t *testing.T) {
	fluid, solid, boundary := testBodies(t)

	// One particle escapes and moves.
	fluid.Positions[0] = components.Point(r3.Vec{X: 10})
	fluid.Velocities.Read()[0] = components.Direction(r3.Vec{Y: -2})

	s := Collect(fluid, solid, boundary, sph.GridStats{OccupiedCells: 7, MaxPerCell: 3})

	if s.FluidCount != 27 || s.SolidCount != 8 || s.BoundaryCount != boundary.NumParticles {
		t.Errorf("counts = %d/%d/%d", s.FluidCount, s.SolidCount, s.BoundaryCount)
	}
	if s.Leaked != 1 {
		t.Errorf("Leaked = %d, want 1", s.Leaked)
	}
	wantKE := 0.5 * fluid.ParticleMass * 4
	if math.Abs(s.KineticEnergy-wantKE) > 1e-12 {
		t.Errorf("KineticEnergy = %v, want %v", s.KineticEnergy, wantKE)
	}
	if s.MaxSpeed != 2 {
		t.Errorf("MaxSpeed = %v, want 2", s.MaxSpeed)
	}
	if s.DensityMean != 1000 {
		t.Errorf("DensityMean = %v, want rest density", s.DensityMean)
	}
	if math.Abs(s.SolidX-1.1) > 1e-12 || math.Abs(s.SolidY-1.1) > 1e-12 {
		t.Errorf("solid centroid = (%v, %v, %v)", s.SolidX, s.SolidY, s.SolidZ)
	}
	if s.GridOccupied != 7 || s.GridMaxPerCell != 3 {
		t.Errorf("grid = %d/%d", s.GridOccupied, s.GridMaxPerCell)
	}
}

func TestCollect_NilSolid(t *testing.T) {
	fluid, _, boundary := testBodies(t)
	s := Collect(fluid, nil, boundary, sph.GridStats{})
	if s.SolidCount != 0 || s.SolidY != 0 {
		t.Errorf("expected empty solid fields, got %+v", s)
	}
}

func TestCollector_Window(t *testing.T) {
	fluid, solid, boundary := testBodies(t)
	c := NewCollector(0.5, 0.1)

	if c.WindowDurationTicks() != 5 {
		t.Fatalf("WindowDurationTicks = %d, want 5", c.WindowDurationTicks())
	}

	for tick := int64(1); tick <= 5; tick++ {
		c.RecordStep(tick == 3)
		if tick == 2 {
			c.RecordMove()
		}
		if tick < 5 && c.ShouldFlush(tick) {
			t.Fatalf("ShouldFlush(%d) = true before window end", tick)
		}
	}
	if !c.ShouldFlush(5) {
		t.Fatal("ShouldFlush(5) = false at window end")
	}

	s := c.Flush(5, fluid, solid, boundary, sph.GridStats{})
	if s.Steps != 4 || s.Skipped != 1 || s.Moves != 1 {
		t.Errorf("steps/skipped/moves = %d/%d/%d, want 4/1/1", s.Steps, s.Skipped, s.Moves)
	}
	if s.WindowStartTick != 0 || s.WindowEndTick != 5 {
		t.Errorf("window = [%d, %d]", s.WindowStartTick, s.WindowEndTick)
	}
	if math.Abs(s.SimTimeSec-0.5) > 1e-12 {
		t.Errorf("SimTimeSec = %v, want 0.5", s.SimTimeSec)
	}

	next := c.Flush(10, fluid, solid, boundary, sph.GridStats{})
	if next.Steps != 0 || next.WindowStartTick != 5 {
		t.Errorf("counters not reset: %+v", next)
	}
}
