package bodies

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/source"
)

// DefaultStiffness is the default shape-matching blend factor.
const DefaultStiffness = 0.9

// SolidBody is a particle cluster held together by shape matching. The rest
// pose is captured once at construction.
type SolidBody struct {
	ParticleSet

	Stiffness    float64
	RestCentroid r3.Vec
	RestOffsets  []r3.Vec
}

// NewSolid creates a solid from src and records its rest pose.
func NewSolid(src source.Source, opts Options) (*SolidBody, error) {
	if !(opts.Stiffness > 0) || opts.Stiffness > 1 {
		return nil, fmt.Errorf("solid stiffness %v not in (0, 1]: %w", opts.Stiffness, ErrInvalidOption)
	}
	set, err := newParticleSet(components.KindSolid, src, opts, true)
	if err != nil {
		return nil, err
	}

	s := &SolidBody{ParticleSet: *set, Stiffness: opts.Stiffness}
	s.RestCentroid = Centroid(s.Positions)
	s.RestOffsets = make([]r3.Vec, s.NumParticles)
	for i, p := range s.Positions {
		s.RestOffsets[i] = r3.Sub(p.Vec3(), s.RestCentroid)
	}
	return s, nil
}

// Centroid returns the mean of points. Particles of one body share a mass,
// so this is also the centre of mass.
func Centroid(points []components.Vec4) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	var c r3.Vec
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	return r3.Scale(1/float64(len(points)), c)
}

// Dispose releases all buffers. Safe to call more than once.
func (s *SolidBody) Dispose() {
	if s == nil {
		return
	}
	s.RestOffsets = nil
	s.ParticleSet.Dispose()
}
