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

// SolidSolver advances a solid body. Each constraint iteration resolves
// contacts with the boundary and the fluid, then shape matching pulls the
// particles back toward the rigidly transformed rest pose. Velocities are
// derived from the result and a last boundary projection keeps committed
// positions outside the boundary's contact distance. The fluid is never
// mutated here.
type SolidSolver struct {
	Body     *bodies.SolidBody
	Boundary *bodies.BoundaryBody
	Fluid    *bodies.FluidBody

	Hash *sph.Grid

	SolverIterations     int
	ConstraintIterations int
	Gravity              r3.Vec

	// Contact weight of a fluid particle against a solid particle.
	fluidWeight float64

	pool     *sph.Pool
	timer    PhaseTimer
	disposed bool
}

// NewSolidSolver creates a solver for solid contained by boundary. fluid may
// be nil.
func NewSolidSolver(solid *bodies.SolidBody, boundary *bodies.BoundaryBody, fluid *bodies.FluidBody, opts Options) (*SolidSolver, error) {
	if solid == nil {
		return nil, fmt.Errorf("solid solver: solid: %w", ErrMissingBody)
	}
	if boundary == nil {
		return nil, fmt.Errorf("solid solver: boundary: %w", ErrMissingBody)
	}
	if err := solid.CheckBuffers(); err != nil {
		return nil, fmt.Errorf("solid solver: %w", err)
	}
	if err := boundary.CheckBuffers(); err != nil {
		return nil, fmt.Errorf("solid solver: %w", err)
	}
	if len(solid.RestOffsets) != solid.NumParticles {
		return nil, fmt.Errorf("solid solver: rest pose has %d entries, want %d: %w",
			len(solid.RestOffsets), solid.NumParticles, bodies.ErrBufferSize)
	}

	total := solid.NumParticles + boundary.NumParticles
	reach := boundary.ParticleRadius
	weight := 0.0
	if fluid != nil {
		if err := fluid.CheckBuffers(); err != nil {
			return nil, fmt.Errorf("solid solver: %w", err)
		}
		total += fluid.NumParticles
		reach = math.Max(reach, fluid.ParticleRadius)
		weight = fluid.ParticleMass / (fluid.ParticleMass + solid.ParticleMass)
	}

	// Every contact distance must fit inside one cell.
	cellSize := math.Max(solid.ParticleRadius*bodies.CellSizeFactor, solid.ParticleRadius+reach)
	grid, err := sph.NewGrid(boundary.Bounds, total, cellSize)
	if err != nil {
		return nil, fmt.Errorf("solid solver: %w", err)
	}

	return &SolidSolver{
		Body:                 solid,
		Boundary:             boundary,
		Fluid:                fluid,
		Hash:                 grid,
		SolverIterations:     opts.SolverIterations,
		ConstraintIterations: opts.ConstraintIterations,
		Gravity:              opts.Gravity,
		fluidWeight:          weight,
		pool:                 opts.Pool,
		timer:                opts.Timer,
	}, nil
}

// StepPhysics advances the solid by dt, split into SolverIterations
// substeps. A non-positive dt or iteration count leaves every buffer
// untouched.
func (s *SolidSolver) StepPhysics(dt float64) error {
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
			s.phase(telemetry.PhaseCollision)
			s.resolveCollisions()
			s.phase(telemetry.PhaseShape)
			s.matchShape()
		}

		s.phase(telemetry.PhaseVelocity)
		updateVelocities(s.pool, body, dt)

		s.phase(telemetry.PhaseCollision)
		s.projectBoundary()

		s.phase(telemetry.PhaseCommit)
		updatePositions(s.pool, body)
	}

	s.Body.UpdateBounds()
	return nil
}

func (s *SolidSolver) phase(name string) {
	if s.timer != nil {
		s.timer.StartPhase(name)
	}
}

func (s *SolidSolver) buildGrid() error {
	pred := s.Body.Predicted.Read()
	if s.Fluid != nil {
		return s.Hash.Build(s.pool, pred, s.Boundary.Positions, s.Fluid.Positions)
	}
	return s.Hash.Build(s.pool, pred, s.Boundary.Positions)
}

// Grid sets of the solid solver, in build order.
const (
	solidSet = iota
	solidBoundarySet
	solidFluidSet
)

// resolveCollisions pushes penetrating particles out of fluid and boundary
// particles. Fluid pushes are averaged over contacts and scaled by the fluid
// contact weight. Boundary contacts are then projected out exactly.
func (s *SolidSolver) resolveCollisions() {
	body := &s.Body.ParticleSet
	pred := body.Predicted.Read()
	out := body.Predicted.Write()

	rs := body.ParticleRadius
	rb := s.Boundary.ParticleRadius
	var rf float64
	var fluid []components.Vec4
	if s.Fluid != nil {
		rf = s.Fluid.ParticleRadius
		fluid = s.Fluid.Positions
	}

	s.pool.For(body.NumParticles, func(start, end int) {
		neighbors := make([]int, 0, 128)
		for i := start; i < end; i++ {
			pi := pred[i].Vec3()
			neighbors = s.Hash.Query(pi, neighbors[:0])

			var push r3.Vec
			contacts := 0
			for _, g := range neighbors {
				set, j := s.Hash.Split(g)
				if set != solidFluidSet {
					continue
				}
				minD := rs + rf
				d := r3.Sub(pi, fluid[j].Vec3())
				dist := r3.Norm(d)
				if dist >= minD {
					continue
				}
				n := r3.Vec{Y: 1}
				if dist > minDist {
					n = r3.Scale(1/dist, d)
				}
				push = r3.Add(push, r3.Scale(s.fluidWeight*(minD-dist), n))
				contacts++
			}
			if contacts > 0 {
				pi = r3.Add(pi, r3.Scale(1/float64(contacts), push))
			}

			pi, _ = projectOut(s.Hash, solidBoundarySet, s.Boundary.Positions, neighbors, pi, r3.Vec{}, rs+rb)
			out[i] = components.Point(pi)
		}
	})

	body.Predicted.Swap()
}

// projectBoundary moves every particle out of the boundary's contact
// distance and removes the velocity pointing into touching boundary
// particles.
func (s *SolidSolver) projectBoundary() {
	body := &s.Body.ParticleSet
	pred := body.Predicted.Read()
	predOut := body.Predicted.Write()
	vel := body.Velocities.Read()
	velOut := body.Velocities.Write()
	minD := body.ParticleRadius + s.Boundary.ParticleRadius

	s.pool.For(body.NumParticles, func(start, end int) {
		neighbors := make([]int, 0, 128)
		for i := start; i < end; i++ {
			pi := pred[i].Vec3()
			neighbors = s.Hash.Query(pi, neighbors[:0])
			pi, vi := projectOut(s.Hash, solidBoundarySet, s.Boundary.Positions, neighbors, pi, vel[i].Vec3(), minD)
			predOut[i] = components.Point(pi)
			velOut[i] = components.Direction(vi)
		}
	})

	body.Predicted.Swap()
	body.Velocities.Swap()
}

// matchShape fits the best rigid transform of the rest pose onto the
// predicted positions and blends every particle toward its goal.
func (s *SolidSolver) matchShape() {
	body := &s.Body.ParticleSet
	pred := body.Predicted.Read()
	out := body.Predicted.Write()
	rest := s.Body.RestOffsets
	k := s.Body.Stiffness

	c := bodies.Centroid(pred)
	r := optimalRotation(covariance(pred, c, rest))

	s.pool.For(body.NumParticles, func(start, end int) {
		for i := start; i < end; i++ {
			p := pred[i].Vec3()
			goal := r3.Add(r.apply(rest[i]), c)
			out[i] = components.Point(r3.Add(p, r3.Scale(k, r3.Sub(goal, p))))
		}
	})

	body.Predicted.Swap()
}

// MoveTowards translates every particle by (dx, dy, dz) without touching
// velocities. A zero offset is a no-op.
func (s *SolidSolver) MoveTowards(dx, dy, dz float64) {
	if s.disposed || (dx == 0 && dy == 0 && dz == 0) {
		return
	}
	offset := r3.Vec{X: dx, Y: dy, Z: dz}
	pos := s.Body.Positions
	s.pool.For(s.Body.NumParticles, func(start, end int) {
		for i := start; i < end; i++ {
			pos[i] = components.Point(r3.Add(pos[i].Vec3(), offset))
		}
	})
	s.Body.UpdateBounds()
}

// Dispose releases the grid. The bodies stay owned by the caller. Safe to
// call more than once.
func (s *SolidSolver) Dispose() {
	if s == nil || s.disposed {
		return
	}
	s.Hash.Dispose()
	s.disposed = true
}
