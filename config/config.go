// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// Simulation size presets, each mapping to a particle radius.
const (
	SizeLow    = "low"
	SizeMedium = "medium"
	SizeHigh   = "high"
)

var sizeRadius = map[string]float64{
	SizeLow:    0.1,
	SizeMedium: 0.08,
	SizeHigh:   0.06,
}

// Config holds all simulation configuration parameters.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Fluid      FluidConfig      `yaml:"fluid"`
	Solid      SolidConfig      `yaml:"solid"`
	Boundary   BoundaryConfig   `yaml:"boundary"`
	Control    ControlConfig    `yaml:"control"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// Vec3 is an x, y, z triple.
type Vec3 [3]float64

// BoxConfig is an axis-aligned box.
type BoxConfig struct {
	Min Vec3 `yaml:"min"`
	Max Vec3 `yaml:"max"`
}

// SimulationConfig holds the solver and time stepping parameters.
type SimulationConfig struct {
	Size                 string  `yaml:"size"`   // low, medium or high
	Radius               float64 `yaml:"radius"` // Overrides the size preset when > 0
	TimeStep             float64 `yaml:"time_step"`
	SolverIterations     int     `yaml:"solver_iterations"`
	ConstraintIterations int     `yaml:"constraint_iterations"`
	Gravity              Vec3    `yaml:"gravity"`
	Workers              int     `yaml:"workers"` // 0 = GOMAXPROCS
}

// FluidConfig holds the fluid body and pressure solve parameters.
type FluidConfig struct {
	Density       float64   `yaml:"density"`
	Viscosity     float64   `yaml:"viscosity"`
	Damping       float64   `yaml:"damping"`
	Stiffness     float64   `yaml:"stiffness"`  // Density constraint response
	Relaxation    float64   `yaml:"relaxation"` // Constraint denominator epsilon
	SpacingFactor float64   `yaml:"spacing_factor"`
	Box           BoxConfig `yaml:"box"` // Shrunk by one radius before sampling
	Run           bool      `yaml:"run"`
}

// SolidConfig holds the shape-matched solid parameters.
type SolidConfig struct {
	Enabled       bool      `yaml:"enabled"` // Create the body at all
	Run           bool      `yaml:"run"`     // Step its solver each tick
	Density       float64   `yaml:"density"`
	Damping       float64   `yaml:"damping"`
	Stiffness     float64   `yaml:"stiffness"` // Shape matching blend in (0, 1]
	SpacingFactor float64   `yaml:"spacing_factor"`
	Box           BoxConfig `yaml:"box"`
	Offset        Vec3      `yaml:"offset"` // Applied after shrinking the box
}

// BoundaryConfig holds the container shell parameters.
type BoundaryConfig struct {
	Inner           BoxConfig `yaml:"inner"`
	Layers          float64   `yaml:"layers"`           // Shell thickness in diameters
	ThicknessFactor float64   `yaml:"thickness_factor"` // Extra padding on the shell
	Psi             string    `yaml:"psi"`              // density or constant
}

// ControlConfig holds interactive drag parameters.
type ControlConfig struct {
	MoveStep float64 `yaml:"move_step"`
}

// TelemetryConfig holds telemetry and logging parameters.
type TelemetryConfig struct {
	StatsWindowSec     float64 `yaml:"stats_window_sec"`
	PerfWindow         int     `yaml:"perf_window"`
	BookmarkHistory    int     `yaml:"bookmark_history"`
	SnapshotOnBookmark bool    `yaml:"snapshot_on_bookmark"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Radius            float64 // Preset or override
	Diameter          float64
	CellSize          float64 // Kernel support and grid cell size
	FluidSpacing      float64
	SolidSpacing      float64
	BoundarySpacing   float64
	BoundaryThickness float64
}

// cellSizeFactor relates the particle radius to the grid cell size.
const cellSizeFactor = 4.0

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Validate reports the first out-of-range value.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.Radius <= 0 {
		if _, ok := RadiusForSize(s.Size); !ok {
			return fmt.Errorf("simulation.size %q (want low, medium or high): %w", s.Size, ErrInvalid)
		}
	}

	checks := []struct {
		name string
		ok   bool
	}{
		{"simulation.radius", s.Radius >= 0},
		{"simulation.time_step", s.TimeStep > 0},
		{"simulation.solver_iterations", s.SolverIterations > 0},
		{"simulation.constraint_iterations", s.ConstraintIterations > 0},
		{"simulation.workers", s.Workers >= 0},
		{"fluid.density", c.Fluid.Density > 0},
		{"fluid.viscosity", c.Fluid.Viscosity >= 0},
		{"fluid.damping", c.Fluid.Damping >= 0},
		{"fluid.stiffness", c.Fluid.Stiffness >= 0},
		{"fluid.relaxation", c.Fluid.Relaxation >= 0},
		{"fluid.spacing_factor", c.Fluid.SpacingFactor > 0},
		{"fluid.box", c.Fluid.Box.valid()},
		{"solid.density", !c.Solid.Enabled || c.Solid.Density > 0},
		{"solid.damping", c.Solid.Damping >= 0},
		{"solid.stiffness", !c.Solid.Enabled || (c.Solid.Stiffness > 0 && c.Solid.Stiffness <= 1)},
		{"solid.spacing_factor", !c.Solid.Enabled || c.Solid.SpacingFactor > 0},
		{"solid.box", !c.Solid.Enabled || c.Solid.Box.valid()},
		{"boundary.inner", c.Boundary.Inner.valid()},
		{"boundary.layers", c.Boundary.Layers > 0},
		{"boundary.thickness_factor", c.Boundary.ThicknessFactor >= 1},
		{"boundary.psi", c.Boundary.Psi == "" || c.Boundary.Psi == "density" || c.Boundary.Psi == "constant"},
		{"telemetry.stats_window_sec", c.Telemetry.StatsWindowSec > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%s: %w", chk.name, ErrInvalid)
		}
	}
	return nil
}

func (b BoxConfig) valid() bool {
	for i := 0; i < 3; i++ {
		if !(b.Max[i] > b.Min[i]) {
			return false
		}
	}
	return true
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	r := c.Simulation.Radius
	if r <= 0 {
		r, _ = RadiusForSize(c.Simulation.Size)
	}
	d := 2 * r

	c.Derived.Radius = r
	c.Derived.Diameter = d
	c.Derived.CellSize = cellSizeFactor * r
	c.Derived.FluidSpacing = d * c.Fluid.SpacingFactor
	c.Derived.SolidSpacing = d * c.Solid.SpacingFactor
	c.Derived.BoundarySpacing = d
	c.Derived.BoundaryThickness = d * c.Boundary.Layers * c.Boundary.ThicknessFactor
}

// RadiusForSize returns the particle radius of a size preset.
func RadiusForSize(size string) (float64, bool) {
	r, ok := sizeRadius[strings.ToLower(size)]
	return r, ok
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
