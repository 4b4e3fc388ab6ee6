// Package source generates evenly spaced particle samplings of boxes.
package source

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/components"
)

var (
	// ErrInvalidSpacing is returned for a non-positive or non-finite spacing.
	ErrInvalidSpacing = errors.New("source: spacing must be positive and finite")
	// ErrInvalidBounds is returned for an inverted or non-finite box.
	ErrInvalidBounds = errors.New("source: invalid bounds")
)

// maxLattice bounds the number of lattice points a source will generate.
const maxLattice = 1 << 26

// Source is a finite, deterministic sampling of points.
type Source interface {
	NumParticles() int
	Positions() []r3.Vec
	Bounds() components.Bounds
	Spacing() float64
}

// lattice holds the generated points shared by both source variants.
type lattice struct {
	spacing   float64
	bounds    components.Bounds
	positions []r3.Vec
}

func (l *lattice) NumParticles() int { return len(l.positions) }
func (l *lattice) Positions() []r3.Vec { return l.positions }
func (l *lattice) Bounds() components.Bounds { return l.bounds }
func (l *lattice) Spacing() float64 { return l.spacing }

// Filled samples every lattice point min + k*spacing that lies inside box,
// faces included.
type Filled struct {
	lattice
}

// NewFilled fills box with points spacing apart.
func NewFilled(spacing float64, box components.Bounds) (*Filled, error) {
	if err := validate(spacing, box); err != nil {
		return nil, err
	}

	nx, ny, nz := Counts(spacing, box)
	if err := checkSize(nx, ny, nz); err != nil {
		return nil, err
	}

	positions := make([]r3.Vec, 0, nx*ny*nz)
	walk(spacing, box.Min, nx, ny, nz, func(p r3.Vec) {
		positions = append(positions, p)
	})

	return &Filled{lattice{spacing: spacing, bounds: box, positions: positions}}, nil
}

// Shell samples the lattice of outer but drops points strictly inside inner,
// leaving a wall between the two boxes.
type Shell struct {
	lattice
	inner components.Bounds
}

// NewShell samples the region between outer and inner.
func NewShell(spacing float64, outer, inner components.Bounds) (*Shell, error) {
	if err := validate(spacing, outer); err != nil {
		return nil, err
	}
	if !inner.Valid() {
		return nil, fmt.Errorf("inner box %v: %w", inner, ErrInvalidBounds)
	}

	nx, ny, nz := Counts(spacing, outer)
	if err := checkSize(nx, ny, nz); err != nil {
		return nil, err
	}

	var positions []r3.Vec
	walk(spacing, outer.Min, nx, ny, nz, func(p r3.Vec) {
		if inner.ContainsStrict(p) {
			return
		}
		positions = append(positions, p)
	})

	return &Shell{
		lattice: lattice{spacing: spacing, bounds: outer, positions: positions},
		inner:   inner,
	}, nil
}

// Inner returns the excluded box.
func (s *Shell) Inner() components.Bounds { return s.inner }

// Counts returns the lattice points per axis for box at spacing. Each axis
// holds every k with min + k*spacing <= max. An axis too long to index is
// reported as maxLattice+1.
func Counts(spacing float64, box components.Bounds) (nx, ny, nz int) {
	size := box.Size()
	return axisCount(size.X, spacing), axisCount(size.Y, spacing), axisCount(size.Z, spacing)
}

func axisCount(extent, spacing float64) int {
	// The epsilon keeps a point that lands on the far face after rounding.
	n := math.Floor(extent/spacing + 1e-9)
	if !(n < maxLattice) {
		return maxLattice + 1
	}
	return int(n) + 1
}

func walk(spacing float64, min r3.Vec, nx, ny, nz int, emit func(r3.Vec)) {
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				emit(r3.Vec{
					X: min.X + float64(x)*spacing,
					Y: min.Y + float64(y)*spacing,
					Z: min.Z + float64(z)*spacing,
				})
			}
		}
	}
}

func validate(spacing float64, box components.Bounds) error {
	if !(spacing > 0) || math.IsInf(spacing, 0) {
		return fmt.Errorf("spacing %v: %w", spacing, ErrInvalidSpacing)
	}
	if !box.Valid() {
		return fmt.Errorf("box %v: %w", box, ErrInvalidBounds)
	}
	return nil
}

func checkSize(nx, ny, nz int) error {
	if nx > maxLattice || ny > maxLattice || nz > maxLattice ||
		nx*ny > maxLattice || nx*ny*nz > maxLattice {
		return fmt.Errorf("lattice of %dx%dx%d points: %w", nx, ny, nz, ErrInvalidSpacing)
	}
	return nil
}
