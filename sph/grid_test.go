package sph

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/components"
)

func testBounds() components.Bounds {
	return components.NewBounds(r3.Vec{X: -2, Y: -2, Z: -2}, r3.Vec{X: 2, Y: 2, Z: 2})
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestNewGrid_Errors(t *testing.T) {
	tests := []struct {
		name     string
		bounds   components.Bounds
		capacity int
		cellSize float64
		want     error
	}{
		{"zero cell size", testBounds(), 10, 0, ErrInvalidRadius},
		{"negative cell size", testBounds(), 10, -0.1, ErrInvalidRadius},
		{"zero capacity", testBounds(), 0, 0.1, ErrInvalidGrid},
		{"inverted bounds", components.NewBounds(r3.Vec{X: 1}, r3.Vec{}), 10, 0.1, ErrInvalidGrid},
		{"too many cells", testBounds(), 10, 1e-4, ErrInvalidGrid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrid(tt.bounds, tt.capacity, tt.cellSize)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewGrid error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGrid_Dims(t *testing.T) {
	g, err := NewGrid(testBounds(), 4, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	w, h, d := g.Dims()
	if w != 8 || h != 8 || d != 8 {
		t.Errorf("Dims = (%d,%d,%d), want (8,8,8)", w, h, d)
	}
	if g.NumCells() != 512 {
		t.Errorf("NumCells = %d, want 512", g.NumCells())
	}
}

func TestGrid_HashClampsOutside(t *testing.T) {
	g, _ := NewGrid(testBounds(), 4, 0.5)

	inside := g.Hash(r3.Vec{X: 1.9, Y: 1.9, Z: 1.9})
	outside := g.Hash(r3.Vec{X: 100, Y: 100, Z: 100})
	if inside != outside {
		t.Errorf("outside position hashed to %d, want border cell %d", outside, inside)
	}

	low := g.Hash(r3.Vec{X: -50, Y: -50, Z: -50})
	if low != 0 {
		t.Errorf("position below bounds hashed to %d, want 0", low)
	}
}

// TestGrid_MutualNeighbors checks both particles see each other when close
// and neither does when far apart.
func TestGrid_MutualNeighbors(t *testing.T) {
	cellSize := 0.2
	bounds := components.NewBounds(r3.Vec{X: -3, Y: -3, Z: -3}, r3.Vec{X: 3, Y: 3, Z: 3})

	tests := []struct {
		name     string
		distance float64
		want     bool
	}{
		{"half cell", 0.5 * cellSize, true},
		{"just under one cell", 0.99 * cellSize, true},
		{"ten cells", 10 * cellSize, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGrid(bounds, 2, cellSize)
			if err != nil {
				t.Fatal(err)
			}
			a := r3.Vec{X: 0.03, Y: 0.07, Z: -0.05}
			b := r3.Add(a, r3.Scale(tt.distance/1.7320508075688772, r3.Vec{X: 1, Y: 1, Z: 1}))
			pts := []components.Vec4{components.Point(a), components.Point(b)}

			if err := g.Build(nil, pts); err != nil {
				t.Fatal(err)
			}

			aSees := contains(g.Query(a, nil), 1)
			bSees := contains(g.Query(b, nil), 0)
			if aSees != tt.want || bSees != tt.want {
				t.Errorf("mutual membership = (%v,%v), want %v", aSees, bSees, tt.want)
			}
		})
	}
}

func TestGrid_BuildCountingSort(t *testing.T) {
	g, _ := NewGrid(testBounds(), 16, 1)

	own := []components.Vec4{
		components.Point(r3.Vec{X: 1.5, Y: 1.5, Z: 1.5}),
		components.Point(r3.Vec{X: -1.5, Y: -1.5, Z: -1.5}),
		components.Point(r3.Vec{X: 1.2, Y: 1.7, Z: 1.1}),
	}
	extra := []components.Vec4{
		components.Point(r3.Vec{X: -1.9, Y: -1.1, Z: -1.2}),
	}

	if err := g.Build(nil, own, extra); err != nil {
		t.Fatal(err)
	}
	if g.Count() != 4 {
		t.Fatalf("Count = %d, want 4", g.Count())
	}
	if g.Offset(1) != 3 {
		t.Errorf("Offset(1) = %d, want 3", g.Offset(1))
	}

	high := g.Neighbors(g.Hash(own[0].Vec3()))
	if len(high) != 2 || high[0] != 0 || high[1] != 2 {
		t.Errorf("high cell = %v, want [0 2]", high)
	}
	low := g.Neighbors(g.Hash(own[1].Vec3()))
	if len(low) != 2 || low[0] != 1 || low[1] != 3 {
		t.Errorf("low cell = %v, want [1 3]", low)
	}

	if set, local := g.Split(3); set != 1 || local != 0 {
		t.Errorf("Split(3) = (%d,%d), want (1,0)", set, local)
	}

	empty := g.Neighbors(g.Hash(r3.Vec{}))
	if len(empty) != 0 {
		t.Errorf("empty cell returned %v", empty)
	}

	// Table is an exclusive prefix sum ending at the particle count.
	if g.Table[g.NumCells()] != 4 {
		t.Errorf("Table tail = %d, want 4", g.Table[g.NumCells()])
	}

	stats := g.Stats()
	if stats.OccupiedCells != 2 || stats.MaxPerCell != 2 {
		t.Errorf("Stats = %+v, want 2 occupied cells with max 2", stats)
	}
}

func TestGrid_Capacity(t *testing.T) {
	g, _ := NewGrid(testBounds(), 2, 1)
	pts := make([]components.Vec4, 3)
	if err := g.Build(nil, pts); !errors.Is(err, ErrCapacity) {
		t.Errorf("Build error = %v, want ErrCapacity", err)
	}
}

func TestGrid_Rebuild(t *testing.T) {
	g, _ := NewGrid(testBounds(), 1, 1)
	p := []components.Vec4{components.Point(r3.Vec{X: 1.5})}
	if err := g.Build(nil, p); err != nil {
		t.Fatal(err)
	}
	before := g.Hash(p[0].Vec3())

	p[0] = components.Point(r3.Vec{X: -1.5})
	if err := g.Build(nil, p); err != nil {
		t.Fatal(err)
	}
	if len(g.Neighbors(before)) != 0 {
		t.Error("stale entry left in previous cell after rebuild")
	}
	if len(g.Neighbors(g.Hash(p[0].Vec3()))) != 1 {
		t.Error("particle missing from its new cell")
	}
}

// TestGrid_ParallelBuild compares a pooled build against an inline one.
func TestGrid_ParallelBuild(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	n := 1000
	pts := make([]components.Vec4, n)
	for i := range pts {
		f := float64(i) / float64(n)
		pts[i] = components.Point(r3.Vec{X: 4*f - 2, Y: 2 - 4*f, Z: f})
	}

	serial, _ := NewGrid(testBounds(), n, 0.25)
	parallel, _ := NewGrid(testBounds(), n, 0.25)
	if err := serial.Build(nil, pts); err != nil {
		t.Fatal(err)
	}
	if err := parallel.Build(pool, pts); err != nil {
		t.Fatal(err)
	}

	for i := range serial.IndexMap[:n] {
		if serial.IndexMap[i] != parallel.IndexMap[i] {
			t.Fatalf("IndexMap[%d] differs: %d vs %d", i, serial.IndexMap[i], parallel.IndexMap[i])
		}
	}
}

func TestGrid_DisposeIdempotent(t *testing.T) {
	g, _ := NewGrid(testBounds(), 1, 1)
	g.Dispose()
	g.Dispose()
	if err := g.Build(nil, nil); !errors.Is(err, ErrInvalidGrid) {
		t.Errorf("Build after Dispose error = %v, want ErrInvalidGrid", err)
	}
	if got := g.Query(r3.Vec{}, nil); len(got) != 0 {
		t.Errorf("Query after Dispose = %v", got)
	}
}
