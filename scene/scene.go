// Package scene assembles the demo: a boundary container, a fluid block and
// a shape-matched solid, registered as entities in an ECS world and stepped
// once per host frame.
package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/config"
	"github.com/pthm-cable/pbdfluid/source"
	"github.com/pthm-cable/pbdfluid/sph"
	"github.com/pthm-cable/pbdfluid/systems"
	"github.com/pthm-cable/pbdfluid/telemetry"
)

var (
	// ErrDisposed is returned when using a disposed scene.
	ErrDisposed = errors.New("scene: disposed")
	// ErrNoBody is returned when toggling a body the scene does not have.
	ErrNoBody = errors.New("scene: no such body")
)

// Options configure a scene beyond the simulation config.
type Options struct {
	LogStats  bool
	OutputDir string // Empty disables CSV output
	NoSolid   bool   // Skip the solid even if the config enables it

	// StatsCallback, if set, receives every flushed stats window.
	StatsCallback func(telemetry.StepStats)
}

// Scene owns the bodies, their solvers and the telemetry of one run.
type Scene struct {
	cfg *config.Config

	world        *ecs.World
	staticMapper *ecs.Map2[components.Kind, components.BodyRef]
	solverMapper *ecs.Map2[components.SolverRef, components.Enabled]
	solverFilter *ecs.Filter3[components.Kind, components.SolverRef, components.Enabled]
	enabledMap   *ecs.Map1[components.Enabled]
	bodyMap      *ecs.Map1[components.BodyRef]
	entities     map[components.Kind]ecs.Entity

	pool *sph.Pool

	boundary    *bodies.BoundaryBody
	fluid       *bodies.FluidBody
	solid       *bodies.SolidBody
	fluidSolver *systems.FluidSolver
	solidSolver *systems.SolidSolver

	perf          *telemetry.PerfCollector
	collector     *telemetry.Collector
	bookmarks     *telemetry.BookmarkDetector
	output        *telemetry.OutputManager
	logStats      bool
	statsCallback func(telemetry.StepStats)

	tick     int64
	simTime  float64
	disposed bool
}

// New builds the scene described by cfg. Any construction error releases
// whatever was already allocated.
func New(cfg *config.Config, opts Options) (s *Scene, err error) {
	if cfg == nil {
		return nil, errors.New("scene: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}

	s = alloc(cfg, opts)
	defer func() {
		if err != nil {
			s.Dispose()
			s = nil
		}
	}()

	if err := s.createBoundary(); err != nil {
		return s, err
	}
	if err := s.createFluid(); err != nil {
		return s, err
	}
	if cfg.Solid.Enabled && !opts.NoSolid {
		if err := s.createSolid(); err != nil {
			return s, err
		}
	}
	if err := s.createSolvers(); err != nil {
		return s, err
	}

	s.output, err = telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return s, fmt.Errorf("scene: %w", err)
	}
	if err := s.output.WriteConfig(cfg); err != nil {
		return s, fmt.Errorf("scene: %w", err)
	}

	attrs := []any{
		"radius", cfg.Derived.Radius,
		"boundary", s.boundary.NumParticles,
		"fluid", s.fluid.NumParticles,
		"workers", s.pool.Workers(),
	}
	if s.solid != nil {
		attrs = append(attrs, "solid", s.solid.NumParticles)
	}
	slog.Info("scene created", attrs...)

	return s, nil
}

// alloc creates an empty scene with its ECS world, pool and telemetry.
func alloc(cfg *config.Config, opts Options) *Scene {
	world := ecs.NewWorld()
	return &Scene{
		cfg:           cfg,
		world:         world,
		staticMapper:  ecs.NewMap2[components.Kind, components.BodyRef](world),
		solverMapper:  ecs.NewMap2[components.SolverRef, components.Enabled](world),
		solverFilter:  ecs.NewFilter3[components.Kind, components.SolverRef, components.Enabled](world),
		enabledMap:    ecs.NewMap1[components.Enabled](world),
		bodyMap:       ecs.NewMap1[components.BodyRef](world),
		entities:      make(map[components.Kind]ecs.Entity, 3),
		pool:          sph.NewPool(cfg.Simulation.Workers),
		perf:          telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		collector:     telemetry.NewCollector(cfg.Telemetry.StatsWindowSec, cfg.Simulation.TimeStep),
		bookmarks:     telemetry.NewBookmarkDetector(cfg.Telemetry.BookmarkHistory),
		logStats:      opts.LogStats,
		statsCallback: opts.StatsCallback,
	}
}

func vec(v config.Vec3) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func box(b config.BoxConfig) components.Bounds {
	return components.NewBounds(vec(b.Min), vec(b.Max))
}

// createBoundary samples a shell around the inner container box.
func (s *Scene) createBoundary() error {
	d := s.cfg.Derived
	inner := box(s.cfg.Boundary.Inner)
	outer := inner.Expand(d.BoundaryThickness)

	src, err := source.NewShell(d.BoundarySpacing, outer, inner)
	if err != nil {
		return fmt.Errorf("scene: boundary: %w", err)
	}
	opts := bodies.DefaultOptions(d.Radius, s.cfg.Fluid.Density)
	s.boundary, err = bodies.NewBoundary(src, opts, bodies.PsiMode(s.cfg.Boundary.Psi), s.pool)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}

	s.addBody(components.KindBoundary, s.boundary)
	return nil
}

// createFluid fills the fluid box, shrunk by one radius so particles start
// inside it.
func (s *Scene) createFluid() error {
	d := s.cfg.Derived
	fc := s.cfg.Fluid

	src, err := source.NewFilled(d.FluidSpacing, box(fc.Box).Expand(-d.Radius))
	if err != nil {
		return fmt.Errorf("scene: fluid: %w", err)
	}
	s.fluid, err = bodies.NewFluid(src, bodies.Options{
		Radius:    d.Radius,
		Density:   fc.Density,
		Viscosity: fc.Viscosity,
		Damping:   fc.Damping,
	})
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	s.addBody(components.KindFluid, s.fluid)
	return nil
}

// createSolid fills the solid box, shrunk by one radius and then moved by
// the configured offset.
func (s *Scene) createSolid() error {
	d := s.cfg.Derived
	sc := s.cfg.Solid

	region := box(sc.Box).Expand(-d.Radius).Translate(vec(sc.Offset))
	src, err := source.NewFilled(d.SolidSpacing, region)
	if err != nil {
		return fmt.Errorf("scene: solid: %w", err)
	}
	s.solid, err = bodies.NewSolid(src, bodies.Options{
		Radius:    d.Radius,
		Density:   sc.Density,
		Damping:   sc.Damping,
		Stiffness: sc.Stiffness,
	})
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	s.addBody(components.KindSolid, s.solid)
	return nil
}

func (s *Scene) solverOptions() systems.Options {
	sim := s.cfg.Simulation
	return systems.Options{
		SolverIterations:     sim.SolverIterations,
		ConstraintIterations: sim.ConstraintIterations,
		Gravity:              vec(sim.Gravity),
		Stiffness:            s.cfg.Fluid.Stiffness,
		Relaxation:           s.cfg.Fluid.Relaxation,
		Pool:                 s.pool,
		Timer:                s.perf,
	}
}

// createSolvers builds one solver per dynamic body and attaches it to the
// body's entity.
func (s *Scene) createSolvers() error {
	opts := s.solverOptions()

	var err error
	s.fluidSolver, err = systems.NewFluidSolver(s.fluid, s.boundary, s.solid, opts)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	s.attachSolver(components.KindFluid, s.fluidSolver, s.cfg.Fluid.Run)

	if s.solid == nil {
		return nil
	}
	s.solidSolver, err = systems.NewSolidSolver(s.solid, s.boundary, s.fluid, opts)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	s.attachSolver(components.KindSolid, s.solidSolver, s.cfg.Solid.Run)
	return nil
}

// addBody registers the entity of a freshly built body. Dispose releases
// every registered body.
func (s *Scene) addBody(kind components.Kind, body components.Body) {
	ref := components.BodyRef{Body: body}
	s.entities[kind] = s.staticMapper.NewEntity(&kind, &ref)
}

func (s *Scene) attachSolver(kind components.Kind, solver components.Stepper, run bool) {
	sref := components.SolverRef{Solver: solver}
	enabled := components.Enabled{Run: run}
	s.solverMapper.Add(s.entities[kind], &sref, &enabled)
}

// activeSolver is a solver due to run this step.
type activeSolver struct {
	kind   components.Kind
	solver components.Stepper
}

// activeSolvers returns the enabled solvers, fluid before solid.
func (s *Scene) activeSolvers() []activeSolver {
	var out []activeSolver
	query := s.solverFilter.Query()
	for query.Next() {
		kind, ref, enabled := query.Get()
		if enabled.Run {
			out = append(out, activeSolver{kind: *kind, solver: ref.Solver})
		}
	}
	slices.SortFunc(out, func(a, b activeSolver) int { return int(a.kind) - int(b.kind) })
	return out
}

// StepPhysics advances every enabled body by dt, fluid first. A
// non-positive dt is a no-op for the bodies but still counts as a tick.
func (s *Scene) StepPhysics(dt float64) error {
	if s.disposed {
		return ErrDisposed
	}

	s.perf.StartTick()
	defer s.perf.EndTick()

	for _, a := range s.activeSolvers() {
		if err := a.solver.StepPhysics(dt); err != nil {
			return fmt.Errorf("scene: %s solver: %w", a.kind, err)
		}
	}

	s.perf.StartPhase(telemetry.PhaseTelemetry)
	skipped := !(dt > 0)
	if !skipped {
		s.simTime += dt
	}
	s.tick++
	s.collector.RecordStep(skipped)
	s.flushTelemetry()

	slog.Debug("step", "tick", s.tick, "dt", dt)
	return nil
}

// Step advances the scene by the configured time step.
func (s *Scene) Step() error {
	return s.StepPhysics(s.cfg.Simulation.TimeStep)
}

// MoveTowards drags the solid by (dx, dy, dz). A zero offset, a missing
// solid or a disposed scene make it a no-op.
func (s *Scene) MoveTowards(dx, dy, dz float64) {
	if s.disposed || s.solidSolver == nil || (dx == 0 && dy == 0 && dz == 0) {
		return
	}
	s.solidSolver.MoveTowards(dx, dy, dz)
	s.collector.RecordMove()
}

// SetEnabled toggles whether the solver of kind runs during a step.
func (s *Scene) SetEnabled(kind components.Kind, run bool) error {
	if s.disposed {
		return ErrDisposed
	}
	e, ok := s.entities[kind]
	if !ok || !s.enabledMap.HasAll(e) {
		return fmt.Errorf("%s: %w", kind, ErrNoBody)
	}
	s.enabledMap.Get(e).Run = run
	return nil
}

// Enabled reports whether the solver of kind runs during a step.
func (s *Scene) Enabled(kind components.Kind) bool {
	if s.disposed {
		return false
	}
	e, ok := s.entities[kind]
	if !ok || !s.enabledMap.HasAll(e) {
		return false
	}
	return s.enabledMap.Get(e).Run
}

// Fluid returns the fluid body.
func (s *Scene) Fluid() *bodies.FluidBody { return s.fluid }

// Solid returns the solid body, or nil when the scene has none.
func (s *Scene) Solid() *bodies.SolidBody { return s.solid }

// Boundary returns the container body.
func (s *Scene) Boundary() *bodies.BoundaryBody { return s.boundary }

// Config returns the configuration the scene was built from.
func (s *Scene) Config() *config.Config { return s.cfg }

// Tick returns the number of steps taken.
func (s *Scene) Tick() int64 { return s.tick }

// SimTime returns the simulated seconds elapsed.
func (s *Scene) SimTime() float64 { return s.simTime }

// Perf returns the current performance window.
func (s *Scene) Perf() telemetry.PerfStats { return s.perf.Stats() }

// Dispose releases the solvers, then the bodies, then the worker pool and
// output files. Safe to call more than once.
func (s *Scene) Dispose() {
	if s == nil || s.disposed {
		return
	}
	s.disposed = true

	if s.solidSolver != nil {
		s.solidSolver.Dispose()
	}
	if s.fluidSolver != nil {
		s.fluidSolver.Dispose()
	}

	for _, kind := range []components.Kind{components.KindSolid, components.KindFluid, components.KindBoundary} {
		e, ok := s.entities[kind]
		if !ok || !s.bodyMap.HasAll(e) {
			continue
		}
		s.bodyMap.Get(e).Body.Dispose()
	}

	s.pool.Close()
	if err := s.output.Close(); err != nil {
		slog.Error("failed to close output", "error", err)
	}
}
