// Package systems holds the per-step solvers that advance the bodies: the
// PBD fluid solver and the shape-matching solid solver. Every pass is one
// parallel sweep over a body; passes run strictly one after another.
package systems

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/sph"
)

var (
	// ErrMissingBody is returned when a solver is built without a required body.
	ErrMissingBody = errors.New("systems: missing body")
	// ErrDisposed is returned when stepping a disposed solver.
	ErrDisposed = errors.New("systems: solver disposed")
	// ErrInvalidOption is returned for an out-of-range solver option.
	ErrInvalidOption = errors.New("systems: invalid solver option")
)

// Solver defaults.
const (
	DefaultSolverIterations     = 2
	DefaultConstraintIterations = 2
	DefaultStiffness            = 1.0
	DefaultRelaxation           = 1e-3
)

// DefaultGravity points down the Y axis.
var DefaultGravity = r3.Vec{Y: -9.81}

// minDist guards divisions by a pair distance.
const minDist = 1e-9

// contactSlop is how far past the contact distance a pair still counts as
// touching when inbound velocity is removed.
const contactSlop = 1e-6

// maxProjectSweeps bounds the passes of projectOut over one particle.
const maxProjectSweeps = 16

// PhaseTimer receives the name of each pass as it starts.
type PhaseTimer interface {
	StartPhase(phase string)
}

// Options configure a solver.
type Options struct {
	SolverIterations     int
	ConstraintIterations int
	Gravity              r3.Vec

	// Stiffness scales the density constraint response. Fluid only.
	Stiffness float64
	// Relaxation is added to the constraint denominator. Fluid only.
	Relaxation float64

	Pool  *sph.Pool
	Timer PhaseTimer
}

// DefaultOptions returns the default iteration counts and gravity.
func DefaultOptions() Options {
	return Options{
		SolverIterations:     DefaultSolverIterations,
		ConstraintIterations: DefaultConstraintIterations,
		Gravity:              DefaultGravity,
		Stiffness:            DefaultStiffness,
		Relaxation:           DefaultRelaxation,
	}
}

// skipStep reports whether a step is a no-op.
func skipStep(dt float64, solverIterations, constraintIterations int) bool {
	return !(dt > 0) || solverIterations <= 0 || constraintIterations <= 0
}

// predictPositions applies gravity and damping to the velocities and
// integrates the predicted positions.
func predictPositions(pool *sph.Pool, b *bodies.ParticleSet, gravity r3.Vec, dt float64) {
	pos := b.Positions
	velRead, velWrite := b.Velocities.Read(), b.Velocities.Write()
	predWrite := b.Predicted.Write()
	damping := b.Damping

	pool.For(b.NumParticles, func(start, end int) {
		for i := start; i < end; i++ {
			v := r3.Add(velRead[i].Vec3(), r3.Scale(dt, gravity))
			v = r3.Sub(v, r3.Scale(damping*dt, v))

			velWrite[i] = components.Direction(v)
			predWrite[i] = components.Point(r3.Add(pos[i].Vec3(), r3.Scale(dt, v)))
		}
	})

	b.Predicted.Swap()
	b.Velocities.Swap()
}

// updateVelocities derives velocities from the predicted displacement.
func updateVelocities(pool *sph.Pool, b *bodies.ParticleSet, dt float64) {
	pos := b.Positions
	predRead := b.Predicted.Read()
	velWrite := b.Velocities.Write()
	inv := 1 / dt

	pool.For(b.NumParticles, func(start, end int) {
		for i := start; i < end; i++ {
			d := r3.Sub(predRead[i].Vec3(), pos[i].Vec3())
			velWrite[i] = components.Direction(r3.Scale(inv, d))
		}
	})

	b.Velocities.Swap()
}

// updatePositions commits the predicted positions.
func updatePositions(pool *sph.Pool, b *bodies.ParticleSet) {
	pos := b.Positions
	predRead := b.Predicted.Read()

	pool.For(b.NumParticles, func(start, end int) {
		copy(pos[start:end], predRead[start:end])
	})
}

// projectOut moves p out of every particle of grid set that lies closer than
// minD, one contact at a time, sweeping until no contact moves p. The
// velocity component pointing into a touching particle is removed.
// neighbors must come from a query of g around p.
func projectOut(g *sph.Grid, set int, static []components.Vec4, neighbors []int, p, v r3.Vec, minD float64) (r3.Vec, r3.Vec) {
	for sweep := 0; sweep < maxProjectSweeps; sweep++ {
		moved := false
		for _, idx := range neighbors {
			k, j := g.Split(idx)
			if k != set {
				continue
			}
			d := r3.Sub(p, static[j].Vec3())
			dist := r3.Norm(d)
			if dist >= minD+contactSlop {
				continue
			}
			n := r3.Vec{Y: 1}
			if dist > minDist {
				n = r3.Scale(1/dist, d)
			}
			if dist < minD {
				p = r3.Add(p, r3.Scale(minD-dist, n))
				moved = true
			}
			if vn := r3.Dot(v, n); vn < 0 {
				v = r3.Sub(v, r3.Scale(vn, n))
			}
		}
		if !moved {
			break
		}
	}
	return p, v
}
