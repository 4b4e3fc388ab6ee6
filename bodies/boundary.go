package bodies

import (
	"fmt"

	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/source"
	"github.com/pthm-cable/pbdfluid/sph"
)

// PsiMode selects how boundary pseudo-mass is computed.
type PsiMode string

const (
	// PsiDensity derives each particle's Psi from the local boundary
	// density: Psi_b = rho0 / sum_k W(x_b - x_k).
	PsiDensity PsiMode = "density"
	// PsiConstant gives every boundary particle the body's particle mass.
	PsiConstant PsiMode = "constant"
)

// CellSizeFactor relates the particle radius to the kernel support radius
// and grid cell size.
const CellSizeFactor = 4.0

// BoundaryBody is the static container. Its positions are never mutated
// after construction; solvers share them read-only.
type BoundaryBody struct {
	ParticleSet

	PsiMode PsiMode
	Psi     []float64
}

// NewBoundary creates a boundary from src and precomputes Psi.
func NewBoundary(src source.Source, opts Options, mode PsiMode, pool *sph.Pool) (*BoundaryBody, error) {
	set, err := newParticleSet(components.KindBoundary, src, opts, false)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = PsiDensity
	}

	b := &BoundaryBody{ParticleSet: *set, PsiMode: mode, Psi: make([]float64, set.NumParticles)}

	switch mode {
	case PsiDensity:
		if err := b.computeDensityPsi(pool); err != nil {
			return nil, fmt.Errorf("boundary psi: %w", err)
		}
	case PsiConstant:
		for i := range b.Psi {
			b.Psi[i] = b.ParticleMass
		}
	default:
		return nil, fmt.Errorf("boundary psi mode %q: %w", mode, ErrInvalidOption)
	}

	return b, nil
}

func (b *BoundaryBody) computeDensityPsi(pool *sph.Pool) error {
	cellSize := b.ParticleRadius * CellSizeFactor
	kernel, err := sph.NewKernel(cellSize)
	if err != nil {
		return err
	}

	grid, err := sph.NewGrid(b.Bounds, b.NumParticles, cellSize)
	if err != nil {
		return err
	}
	defer grid.Dispose()

	if err := grid.Build(pool, b.Positions); err != nil {
		return err
	}

	pool.For(b.NumParticles, func(start, end int) {
		var neighbors []int
		for i := start; i < end; i++ {
			pi := b.Positions[i].Vec3()
			neighbors = grid.Query(pi, neighbors[:0])

			sum := 0.0
			for _, j := range neighbors {
				pj := b.Positions[j]
				dx, dy, dz := pi.X-pj.X, pi.Y-pj.Y, pi.Z-pj.Z
				sum += kernel.Poly6Dist2(dx*dx + dy*dy + dz*dz)
			}
			// sum includes W(0) from the particle itself, so it is never zero.
			b.Psi[i] = b.Density / sum
		}
	})
	return nil
}

// Dispose releases all buffers. Safe to call more than once.
func (b *BoundaryBody) Dispose() {
	if b == nil {
		return
	}
	b.Psi = nil
	b.ParticleSet.Dispose()
}
