package sph

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/components"
)

// MaxCells caps the dense cell table. Grids are indexed densely, so two
// distinct cells never share a table slot.
const MaxCells = 1 << 24

var (
	// ErrCapacity is returned when more particles are hashed than the grid
	// was sized for.
	ErrCapacity = errors.New("sph: grid capacity exceeded")
	// ErrInvalidGrid is returned for unusable grid dimensions.
	ErrInvalidGrid = errors.New("sph: invalid grid configuration")
)

// Grid bins particles into uniform cubic cells so a neighbour search only
// visits the 27 cells around a particle. Build runs a counting sort keyed by
// cell id: Table[c]..Table[c+1] is the range of IndexMap holding the global
// indices of the particles in cell c.
type Grid struct {
	bounds      components.Bounds
	cellSize    float64
	invCellSize float64
	dims        [3]int
	capacity    int

	Table    []int // len = cells + 1, exclusive prefix sum of cell counts
	IndexMap []int // global particle indices ordered by cell

	cellIDs []int // cell id per global particle
	cursor  []int // scatter cursors, reused across builds
	offsets []int // start of each hashed set in global index space
	count   int

	disposed bool
}

// NewGrid creates a grid covering bounds with the given cell size that can
// hash up to capacity particles per build.
func NewGrid(bounds components.Bounds, capacity int, cellSize float64) (*Grid, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("grid cell size %v: %w", cellSize, ErrInvalidRadius)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("grid capacity %d: %w", capacity, ErrInvalidGrid)
	}
	if !bounds.Valid() {
		return nil, fmt.Errorf("grid bounds %v: %w", bounds, ErrInvalidGrid)
	}

	size := bounds.Size()
	var dims [3]int
	cells := 1
	for i, extent := range []float64{size.X, size.Y, size.Z} {
		d := int(math.Ceil(extent / cellSize))
		if d < 1 {
			d = 1
		}
		if d > MaxCells || cells > MaxCells/d {
			return nil, fmt.Errorf("grid of %v cells per axis at cell size %v exceeds %d cells: %w",
				size, cellSize, MaxCells, ErrInvalidGrid)
		}
		dims[i] = d
		cells *= d
	}

	return &Grid{
		bounds:      bounds,
		cellSize:    cellSize,
		invCellSize: 1 / cellSize,
		dims:        dims,
		capacity:    capacity,
		Table:       make([]int, cells+1),
		IndexMap:    make([]int, capacity),
		cellIDs:     make([]int, capacity),
		cursor:      make([]int, cells),
	}, nil
}

// Bounds returns the region the grid covers.
func (g *Grid) Bounds() components.Bounds { return g.bounds }

// CellSize returns the edge length of a cell.
func (g *Grid) CellSize() float64 { return g.cellSize }

// InvCellSize returns 1 / CellSize.
func (g *Grid) InvCellSize() float64 { return g.invCellSize }

// Dims returns the cell count per axis.
func (g *Grid) Dims() (w, h, d int) { return g.dims[0], g.dims[1], g.dims[2] }

// NumCells returns the number of cells in the table.
func (g *Grid) NumCells() int { return len(g.Table) - 1 }

// Capacity returns the maximum particle count per build.
func (g *Grid) Capacity() int { return g.capacity }

// Count returns the number of particles hashed by the last build.
func (g *Grid) Count() int { return g.count }

// Coord returns the integer cell coordinate of p. Positions outside the
// grid clamp to the border cell.
func (g *Grid) Coord(p r3.Vec) (x, y, z int) {
	x = g.axis(p.X-g.bounds.Min.X, 0)
	y = g.axis(p.Y-g.bounds.Min.Y, 1)
	z = g.axis(p.Z-g.bounds.Min.Z, 2)
	return x, y, z
}

func (g *Grid) axis(offset float64, i int) int {
	f := math.Floor(offset * g.invCellSize)
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f >= float64(g.dims[i]) {
		return g.dims[i] - 1
	}
	return int(f)
}

// Hash maps a position to its cell id x + y*W + z*W*H.
func (g *Grid) Hash(p r3.Vec) int {
	x, y, z := g.Coord(p)
	return g.cellID(x, y, z)
}

func (g *Grid) cellID(x, y, z int) int {
	return x + y*g.dims[0] + z*g.dims[0]*g.dims[1]
}

// Build hashes every particle of sets, in order, and rebuilds Table and
// IndexMap. Set k's particle i gets global index Offset(k) + i.
func (g *Grid) Build(pool *Pool, sets ...[]components.Vec4) error {
	if g.disposed {
		return fmt.Errorf("build on disposed grid: %w", ErrInvalidGrid)
	}

	total := 0
	for _, s := range sets {
		total += len(s)
	}
	if total > g.capacity {
		return fmt.Errorf("hashing %d particles into grid of capacity %d: %w", total, g.capacity, ErrCapacity)
	}

	g.offsets = g.offsets[:0]
	base := 0
	for _, s := range sets {
		g.offsets = append(g.offsets, base)
		set := s
		start := base
		pool.For(len(set), func(i0, i1 int) {
			for i := i0; i < i1; i++ {
				g.cellIDs[start+i] = g.Hash(set[i].Vec3())
			}
		})
		base += len(set)
	}
	g.offsets = append(g.offsets, base)
	g.count = total

	// Count, prefix sum, scatter. The scatter walks particles in global order
	// so each cell's range is sorted by global index.
	clear(g.Table)
	for _, id := range g.cellIDs[:total] {
		g.Table[id+1]++
	}
	for c := 1; c < len(g.Table); c++ {
		g.Table[c] += g.Table[c-1]
	}
	copy(g.cursor, g.Table[:len(g.cursor)])
	for i, id := range g.cellIDs[:total] {
		g.IndexMap[g.cursor[id]] = i
		g.cursor[id]++
	}

	return nil
}

// Clear empties the table without releasing storage.
func (g *Grid) Clear() {
	clear(g.Table)
	g.offsets = g.offsets[:0]
	g.count = 0
}

// Offset returns the first global index of set k from the last build.
func (g *Grid) Offset(k int) int {
	return g.offsets[k]
}

// Split maps a global index back to (set, local index).
func (g *Grid) Split(global int) (set, local int) {
	for k := 0; k+1 < len(g.offsets); k++ {
		if global < g.offsets[k+1] {
			return k, global - g.offsets[k]
		}
	}
	return -1, -1
}

// Neighbors returns the particles binned into cell. The slice aliases
// IndexMap and is only valid until the next Build.
func (g *Grid) Neighbors(cell int) []int {
	if cell < 0 || cell+1 >= len(g.Table) {
		return nil
	}
	return g.IndexMap[g.Table[cell]:g.Table[cell+1]]
}

// Query appends to dst the particles of the 27 cells around p and returns
// the extended slice. Reuse dst across calls to avoid allocations.
func (g *Grid) Query(p r3.Vec, dst []int) []int {
	if g.disposed {
		return dst
	}
	cx, cy, cz := g.Coord(p)
	for z := cz - 1; z <= cz+1; z++ {
		if z < 0 || z >= g.dims[2] {
			continue
		}
		for y := cy - 1; y <= cy+1; y++ {
			if y < 0 || y >= g.dims[1] {
				continue
			}
			for x := cx - 1; x <= cx+1; x++ {
				if x < 0 || x >= g.dims[0] {
					continue
				}
				c := g.cellID(x, y, z)
				dst = append(dst, g.IndexMap[g.Table[c]:g.Table[c+1]]...)
			}
		}
	}
	return dst
}

// GridStats summarises cell occupancy after a build.
type GridStats struct {
	Particles     int
	OccupiedCells int
	MaxPerCell    int
}

// Stats reports occupancy of the last build.
func (g *Grid) Stats() GridStats {
	s := GridStats{Particles: g.count}
	for c := 0; c+1 < len(g.Table); c++ {
		n := g.Table[c+1] - g.Table[c]
		if n == 0 {
			continue
		}
		s.OccupiedCells++
		if n > s.MaxPerCell {
			s.MaxPerCell = n
		}
	}
	return s
}

// Dispose releases the grid storage. Safe to call more than once.
func (g *Grid) Dispose() {
	if g == nil || g.disposed {
		return
	}
	g.Table = nil
	g.IndexMap = nil
	g.cellIDs = nil
	g.cursor = nil
	g.offsets = nil
	g.count = 0
	g.disposed = true
}
