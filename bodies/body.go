// Package bodies owns the per-particle buffers of the simulated bodies: the
// fluid, the static boundary shell and the shape-matched solid.
package bodies

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/source"
)

var (
	// ErrInvalidRadius is returned for a non-positive particle radius.
	ErrInvalidRadius = errors.New("bodies: particle radius must be positive")
	// ErrInvalidDensity is returned for a non-positive rest density.
	ErrInvalidDensity = errors.New("bodies: rest density must be positive")
	// ErrEmptySource is returned when a source yields no particles.
	ErrEmptySource = errors.New("bodies: source has no particles")
	// ErrBufferSize is returned when a body's buffers disagree on length.
	ErrBufferSize = errors.New("bodies: buffer size mismatch")
	// ErrInvalidOption is returned for an out-of-range body option.
	ErrInvalidOption = errors.New("bodies: invalid option")
)

// Default body parameters.
const (
	DefaultDensity   = 1000.0
	DefaultViscosity = 0.002
	DefaultDamping   = 0.0
)

// Options are the static properties of a body.
type Options struct {
	Radius    float64
	Density   float64
	Viscosity float64
	Damping   float64

	// Stiffness is the shape-matching blend factor in (0, 1]. Solid only.
	Stiffness float64

	// Transform is an optional 4x4 matrix applied to every source point.
	// Nil means identity.
	Transform *mat.Dense
}

// DefaultOptions returns options with the default viscosity and damping.
func DefaultOptions(radius, density float64) Options {
	return Options{
		Radius:    radius,
		Density:   density,
		Viscosity: DefaultViscosity,
		Damping:   DefaultDamping,
		Stiffness: DefaultStiffness,
	}
}

func (o Options) validate() error {
	if !(o.Radius > 0) || math.IsInf(o.Radius, 0) {
		return fmt.Errorf("radius %v: %w", o.Radius, ErrInvalidRadius)
	}
	if !(o.Density > 0) || math.IsInf(o.Density, 0) {
		return fmt.Errorf("density %v: %w", o.Density, ErrInvalidDensity)
	}
	if o.Viscosity < 0 {
		return fmt.Errorf("viscosity %v: %w", o.Viscosity, ErrInvalidOption)
	}
	if o.Damping < 0 {
		return fmt.Errorf("damping %v: %w", o.Damping, ErrInvalidOption)
	}
	if o.Transform != nil {
		if r, c := o.Transform.Dims(); r != 4 || c != 4 {
			return fmt.Errorf("transform is %dx%d, want 4x4: %w", r, c, ErrInvalidOption)
		}
	}
	return nil
}

// ParticleSet holds the buffers and static properties shared by every body.
// Index i is the permanent identity of a particle within its body.
type ParticleSet struct {
	kind components.Kind

	NumParticles   int
	ParticleRadius float64
	Density        float64
	Viscosity      float64
	Damping        float64
	ParticleVolume float64
	ParticleMass   float64

	Bounds components.Bounds

	Positions  []components.Vec4
	Predicted  components.Pair
	Velocities components.Pair
	Densities  []float64
	Pressures  []float64

	disposed bool
}

func newParticleSet(kind components.Kind, src source.Source, opts Options, dynamic bool) (*ParticleSet, error) {
	if src == nil || src.NumParticles() == 0 {
		return nil, fmt.Errorf("%s body: %w", kind, ErrEmptySource)
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%s body: %w", kind, err)
	}

	n := src.NumParticles()
	volume := (4.0 / 3.0) * math.Pi * opts.Radius * opts.Radius * opts.Radius

	b := &ParticleSet{
		kind:           kind,
		NumParticles:   n,
		ParticleRadius: opts.Radius,
		Density:        opts.Density,
		Viscosity:      opts.Viscosity,
		Damping:        opts.Damping,
		ParticleVolume: volume,
		ParticleMass:   volume * opts.Density,
		Positions:      make([]components.Vec4, n),
		Densities:      make([]float64, n),
		Pressures:      make([]float64, n),
	}

	for i, p := range src.Positions() {
		b.Positions[i] = components.Point(transform(opts.Transform, p))
	}

	if dynamic {
		b.Predicted = components.NewPair(b.Positions)
		b.Velocities = components.NewPair(make([]components.Vec4, n))
	}
	for i := range b.Densities {
		b.Densities[i] = b.Density
	}

	b.UpdateBounds()
	return b, nil
}

func transform(m *mat.Dense, p r3.Vec) r3.Vec {
	if m == nil {
		return p
	}
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1}))
	w := out.AtVec(3)
	if w == 0 {
		w = 1
	}
	return r3.Vec{X: out.AtVec(0) / w, Y: out.AtVec(1) / w, Z: out.AtVec(2) / w}
}

// Kind returns the role of the body.
func (b *ParticleSet) Kind() components.Kind { return b.kind }

// Count returns the particle count.
func (b *ParticleSet) Count() int { return b.NumParticles }

// ParticleDiameter returns twice the particle radius.
func (b *ParticleSet) ParticleDiameter() float64 { return 2 * b.ParticleRadius }

// UpdateBounds recomputes Bounds from the particle extrema padded by one
// radius.
func (b *ParticleSet) UpdateBounds() {
	if len(b.Positions) == 0 {
		return
	}
	b.Bounds = components.BoundsOf(b.Positions, b.ParticleRadius)
}

// CheckBuffers verifies every allocated buffer holds NumParticles entries.
func (b *ParticleSet) CheckBuffers() error {
	if b.disposed {
		return fmt.Errorf("%s body disposed: %w", b.kind, ErrBufferSize)
	}
	check := func(name string, n int) error {
		if n != b.NumParticles {
			return fmt.Errorf("%s %s has %d entries, want %d: %w", b.kind, name, n, b.NumParticles, ErrBufferSize)
		}
		return nil
	}
	if err := check("positions", len(b.Positions)); err != nil {
		return err
	}
	if err := check("densities", len(b.Densities)); err != nil {
		return err
	}
	if err := check("pressures", len(b.Pressures)); err != nil {
		return err
	}
	if b.kind == components.KindBoundary {
		return nil
	}
	if err := check("predicted", b.Predicted.Len()); err != nil {
		return err
	}
	return check("velocities", b.Velocities.Len())
}

// Dispose releases all buffers. Safe to call more than once.
func (b *ParticleSet) Dispose() {
	if b == nil || b.disposed {
		return
	}
	b.Positions = nil
	b.Densities = nil
	b.Pressures = nil
	b.Predicted.Release()
	b.Velocities.Release()
	b.disposed = true
}

// Disposed reports whether Dispose has run.
func (b *ParticleSet) Disposed() bool { return b.disposed }

// FluidBody is a PBD fluid.
type FluidBody struct {
	ParticleSet
}

// NewFluid creates a fluid from src.
func NewFluid(src source.Source, opts Options) (*FluidBody, error) {
	set, err := newParticleSet(components.KindFluid, src, opts, true)
	if err != nil {
		return nil, err
	}
	return &FluidBody{ParticleSet: *set}, nil
}
