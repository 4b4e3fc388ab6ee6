// Package components defines particle data types and the ECS components the
// scene registers bodies and solvers with.
package components

// Kind identifies the role of a particle body.
type Kind uint8

const (
	KindBoundary Kind = iota // static container shell
	KindFluid                // PBD fluid
	KindSolid                // shape-matched solid
)

// String returns the display name for a Kind.
func (k Kind) String() string {
	switch k {
	case KindBoundary:
		return "boundary"
	case KindFluid:
		return "fluid"
	case KindSolid:
		return "solid"
	}
	return "unknown"
}

// Body is the read-only view a body exposes to the scene and renderers.
type Body interface {
	Count() int
	Dispose()
}

// Stepper advances a body by one host frame.
type Stepper interface {
	StepPhysics(dt float64) error
	Dispose()
}

// BodyRef attaches a particle body to an entity.
type BodyRef struct {
	Body Body
}

// SolverRef attaches the solver that owns a dynamic body.
type SolverRef struct {
	Solver Stepper
}

// Enabled toggles whether a solver runs during a scene step.
type Enabled struct {
	Run bool
}
