package systems

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/sph"
	"github.com/pthm-cable/pbdfluid/telemetry"
)

// FluidSolver advances a fluid body with position based dynamics. Density is
// estimated with SPH over the fluid, the boundary (weighted by its Psi) and
// optionally a solid body, which the fluid sees as a read-only obstacle.
type FluidSolver struct {
	Body     *bodies.FluidBody
	Boundary *bodies.BoundaryBody
	Solid    *bodies.SolidBody

	Hash   *sph.Grid
	Kernel sph.Kernel

	SolverIterations     int
	ConstraintIterations int
	Gravity              r3.Vec
	Stiffness            float64
	Relaxation           float64

	pool     *sph.Pool
	timer    PhaseTimer
	disposed bool
}

// NewFluidSolver creates a solver for fluid contained by boundary. solid may
// be nil. The grid covers the boundary bounds with cells of 4 fluid radii.
func NewFluidSolver(fluid *bodies.FluidBody, boundary *bodies.BoundaryBody, solid *bodies.SolidBody, opts Options) (*FluidSolver, error) {
	if fluid == nil {
		return nil, fmt.Errorf("fluid solver: fluid: %w", ErrMissingBody)
	}
	if boundary == nil {
		return nil, fmt.Errorf("fluid solver: boundary: %w", ErrMissingBody)
	}
	if err := fluid.CheckBuffers(); err != nil {
		return nil, fmt.Errorf("fluid solver: %w", err)
	}
	if err := boundary.CheckBuffers(); err != nil {
		return nil, fmt.Errorf("fluid solver: %w", err)
	}
	if len(boundary.Psi) != boundary.NumParticles {
		return nil, fmt.Errorf("fluid solver: boundary psi has %d entries, want %d: %w",
			len(boundary.Psi), boundary.NumParticles, bodies.ErrBufferSize)
	}
	if opts.Stiffness < 0 || opts.Relaxation < 0 {
		return nil, fmt.Errorf("fluid solver: stiffness %v relaxation %v: %w", opts.Stiffness, opts.Relaxation, ErrInvalidOption)
	}

	total := fluid.NumParticles + boundary.NumParticles
	if solid != nil {
		if err := solid.CheckBuffers(); err != nil {
			return nil, fmt.Errorf("fluid solver: %w", err)
		}
		total += solid.NumParticles
	}

	cellSize := fluid.ParticleRadius * bodies.CellSizeFactor
	grid, err := sph.NewGrid(boundary.Bounds, total, cellSize)
	if err != nil {
		return nil, fmt.Errorf("fluid solver: %w", err)
	}
	kernel, err := sph.NewKernel(cellSize)
	if err != nil {
		return nil, fmt.Errorf("fluid solver: %w", err)
	}

	return &FluidSolver{
		Body:                 fluid,
		Boundary:             boundary,
		Solid:                solid,
		Hash:                 grid,
		Kernel:               kernel,
		SolverIterations:     opts.SolverIterations,
		ConstraintIterations: opts.ConstraintIterations,
		Gravity:              opts.Gravity,
		Stiffness:            opts.Stiffness,
		Relaxation:           opts.Relaxation,
		pool:                 opts.Pool,
		timer:                opts.Timer,
	}, nil
}

// StepPhysics advances the fluid by dt, split into SolverIterations
// substeps. A non-positive dt or iteration count leaves every buffer
// untouched.
func (s *FluidSolver) StepPhysics(dt float64) error {
	if s.disposed {
		return ErrDisposed
	}
	if skipStep(dt, s.SolverIterations, s.ConstraintIterations) {
		return nil
	}

	dt /= float64(s.SolverIterations)
	body := &s.Body.ParticleSet

	for i := 0; i < s.SolverIterations; i++ {
		s.phase(telemetry.PhasePredict)
		predictPositions(s.pool, body, s.Gravity, dt)

		s.phase(telemetry.PhaseGrid)
		if err := s.buildGrid(); err != nil {
			return err
		}

		for c := 0; c < s.ConstraintIterations; c++ {
			s.phase(telemetry.PhaseDensity)
			s.computeDensity()
			s.phase(telemetry.PhaseConstraint)
			s.solveConstraint()
		}

		s.phase(telemetry.PhaseCollision)
		s.projectBoundary()

		s.phase(telemetry.PhaseVelocity)
		updateVelocities(s.pool, body, dt)

		s.phase(telemetry.PhaseViscosity)
		s.solveViscosity()

		s.phase(telemetry.PhaseCommit)
		updatePositions(s.pool, body)
	}

	s.Body.UpdateBounds()
	return nil
}

func (s *FluidSolver) phase(name string) {
	if s.timer != nil {
		s.timer.StartPhase(name)
	}
}

func (s *FluidSolver) buildGrid() error {
	pred := s.Body.Predicted.Read()
	if s.Solid != nil {
		return s.Hash.Build(s.pool, pred, s.Boundary.Positions, s.Solid.Positions)
	}
	return s.Hash.Build(s.pool, pred, s.Boundary.Positions)
}

// neighbor resolves a global grid index to a position, a mass and whether it
// belongs to the fluid itself.
func (s *FluidSolver) neighbor(pred []components.Vec4, g int) (p components.Vec4, mass float64, own bool) {
	switch set, j := s.Hash.Split(g); set {
	case fluidSet:
		return pred[j], s.Body.ParticleMass, true
	case fluidBoundarySet:
		return s.Boundary.Positions[j], s.Boundary.Psi[j], false
	default:
		return s.Solid.Positions[j], s.Solid.ParticleMass, false
	}
}

// computeDensity sums Poly6 contributions and derives each particle's
// pressure: the clamped density constraint C = rho/rho0 - 1 divided by its
// squared gradient norm. A particle without neighbours sits at rest density.
func (s *FluidSolver) computeDensity() {
	pred := s.Body.Predicted.Read()
	densities := s.Body.Densities
	pressures := s.Body.Pressures
	mass := s.Body.ParticleMass
	rho0 := s.Body.Density
	k := s.Kernel
	h := k.Radius

	s.pool.For(s.Body.NumParticles, func(start, end int) {
		neighbors := make([]int, 0, 128)
		for i := start; i < end; i++ {
			pi := pred[i]
			neighbors = s.Hash.Query(pi.Vec3(), neighbors[:0])

			density := mass * k.Poly6Zero()
			var grad r3.Vec
			sumGrad2 := 0.0
			count := 0

			for _, g := range neighbors {
				if g == i {
					continue
				}
				pj, mj, own := s.neighbor(pred, g)
				d := r3.Vec{X: pi.X - pj.X, Y: pi.Y - pj.Y, Z: pi.Z - pj.Z}
				r2 := r3.Norm2(d)
				if r2 >= k.Radius2 {
					continue
				}
				count++
				density += mj * k.Poly6Dist2(r2)

				r := math.Sqrt(r2)
				if r < minDist {
					continue
				}
				x := h - r
				gj := r3.Scale(mj/rho0*k.SpikyGradCoeff*x*x/r, d)
				grad = r3.Add(grad, gj)
				if own {
					sumGrad2 += r3.Norm2(gj)
				}
			}

			if count == 0 {
				densities[i] = rho0
				pressures[i] = 0
				continue
			}

			densities[i] = density
			c := density/rho0 - 1
			if c <= 0 {
				pressures[i] = 0
				continue
			}
			pressures[i] = s.Stiffness * c / (r3.Norm2(grad) + sumGrad2 + s.Relaxation)
		}
	})
}

// solveConstraint moves each particle down the pressure gradient. Fluid
// pairs share the correction symmetrically; static neighbours only push.
func (s *FluidSolver) solveConstraint() {
	body := &s.Body.ParticleSet
	pred := body.Predicted.Read()
	out := body.Predicted.Write()
	pressures := body.Pressures
	rho0 := body.Density
	k := s.Kernel
	h := k.Radius

	s.pool.For(body.NumParticles, func(start, end int) {
		neighbors := make([]int, 0, 128)
		for i := start; i < end; i++ {
			pi := pred[i]
			p := pressures[i]
			neighbors = s.Hash.Query(pi.Vec3(), neighbors[:0])

			var corr r3.Vec
			for _, g := range neighbors {
				if g == i {
					continue
				}
				pj, mj, own := s.neighbor(pred, g)

				coef := p
				if own {
					coef += pressures[g]
				}
				if coef == 0 {
					continue
				}

				d := r3.Vec{X: pi.X - pj.X, Y: pi.Y - pj.Y, Z: pi.Z - pj.Z}
				r2 := r3.Norm2(d)
				if r2 >= k.Radius2 {
					continue
				}
				r := math.Sqrt(r2)
				if r < minDist {
					continue
				}
				x := h - r
				corr = r3.Sub(corr, r3.Scale(mj/rho0*coef*k.SpikyGradCoeff*x*x/r, d))
			}

			out[i] = components.Point(r3.Add(pi.Vec3(), corr))
		}
	})

	body.Predicted.Swap()
}

// Grid sets of the fluid solver, in build order.
const (
	fluidSet = iota
	fluidBoundarySet
	fluidSolidSet
)

// projectBoundary moves every fluid particle out of the boundary's contact
// distance.
func (s *FluidSolver) projectBoundary() {
	body := &s.Body.ParticleSet
	pred := body.Predicted.Read()
	out := body.Predicted.Write()
	minD := body.ParticleRadius + s.Boundary.ParticleRadius

	s.pool.For(body.NumParticles, func(start, end int) {
		neighbors := make([]int, 0, 128)
		for i := start; i < end; i++ {
			pi := pred[i].Vec3()
			neighbors = s.Hash.Query(pi, neighbors[:0])
			pi, _ = projectOut(s.Hash, fluidBoundarySet, s.Boundary.Positions, neighbors, pi, r3.Vec{}, minD)
			out[i] = components.Point(pi)
		}
	})

	body.Predicted.Swap()
}

// solveViscosity blends each velocity toward its fluid neighbours using the
// viscosity kernel Laplacian.
func (s *FluidSolver) solveViscosity() {
	body := &s.Body.ParticleSet
	pred := body.Predicted.Read()
	velRead := body.Velocities.Read()
	velWrite := body.Velocities.Write()
	densities := body.Densities
	mass := body.ParticleMass
	viscosity := body.Viscosity
	nf := body.NumParticles
	k := s.Kernel
	h := k.Radius

	s.pool.For(nf, func(start, end int) {
		neighbors := make([]int, 0, 128)
		for i := start; i < end; i++ {
			pi := pred[i]
			vi := velRead[i].Vec3()
			neighbors = s.Hash.Query(pi.Vec3(), neighbors[:0])

			var sum r3.Vec
			for _, g := range neighbors {
				if g == i || g >= nf {
					continue
				}
				pj := pred[g]
				d := r3.Vec{X: pi.X - pj.X, Y: pi.Y - pj.Y, Z: pi.Z - pj.Z}
				r2 := r3.Norm2(d)
				if r2 >= k.Radius2 || densities[g] <= 0 {
					continue
				}
				w := mass / densities[g] * k.ViscLapCoeff * (h - math.Sqrt(r2))
				sum = r3.Add(sum, r3.Scale(w, r3.Sub(velRead[g].Vec3(), vi)))
			}

			velWrite[i] = components.Direction(r3.Add(vi, r3.Scale(viscosity, sum)))
		}
	})

	body.Velocities.Swap()
}

// Dispose releases the grid. The bodies stay owned by the caller. Safe to
// call more than once.
func (s *FluidSolver) Dispose() {
	if s == nil || s.disposed {
		return
	}
	s.Hash.Dispose()
	s.disposed = true
}
