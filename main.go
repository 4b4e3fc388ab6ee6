package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pthm-cable/pbdfluid/components"
	"github.com/pthm-cable/pbdfluid/config"
	"github.com/pthm-cable/pbdfluid/scene"
	"github.com/pthm-cable/pbdfluid/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	maxTicks := flag.Int("max-ticks", 600, "Stop after N ticks (0 = unlimited)")
	move := flag.String("move", "", "Drag the solid every tick by dx,dy,dz move steps (e.g. \"1,0,0\")")
	noSolid := flag.Bool("no-solid", false, "Run without the solid body")
	solidRun := flag.Bool("solid-run", false, "Step the solid solver from the first tick")
	restore := flag.String("restore", "", "Snapshot file to restore before stepping")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Use config stats window if not overridden by CLI
	if *statsWindow > 0 {
		cfg.Telemetry.StatsWindowSec = *statsWindow
	}
	if *solidRun {
		cfg.Solid.Run = true
	}

	dx, dy, dz, err := parseMove(*move, cfg.Control.MoveStep)
	if err != nil {
		slog.Error("invalid -move", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, scene.Options{
		LogStats:  *logStats,
		OutputDir: *outputDir,
		NoSolid:   *noSolid,
	}, *maxTicks, *restore, [3]float64{dx, dy, dz}); err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts scene.Options, maxTicks int, restorePath string, move [3]float64) error {
	s, err := scene.New(cfg, opts)
	if err != nil {
		return err
	}
	defer s.Dispose()

	if restorePath != "" {
		snap, err := telemetry.LoadSnapshot(restorePath)
		if err != nil {
			return err
		}
		if err := s.Restore(snap); err != nil {
			return err
		}
		slog.Info("restored snapshot", "path", restorePath, "tick", snap.Tick)
	}

	slog.Info("starting simulation",
		"max_ticks", maxTicks,
		"dt", cfg.Simulation.TimeStep,
		"fluid_run", s.Enabled(components.KindFluid),
		"solid_run", s.Enabled(components.KindSolid),
	)

	for maxTicks <= 0 || int(s.Tick()) < maxTicks {
		s.MoveTowards(move[0], move[1], move[2])
		if err := s.Step(); err != nil {
			return err
		}
	}

	perf := s.Perf()
	slog.Info("max ticks reached", "tick", s.Tick(), "sim_time", s.SimTime(), "perf", perf)
	return nil
}

// parseMove reads "dx,dy,dz" in units of step.
func parseMove(s string, step float64) (dx, dy, dz float64, err error) {
	if s == "" {
		return 0, 0, 0, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("want dx,dy,dz, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("component %d of %q: %w", i, s, err)
		}
	}
	return v[0] * step, v[1] * step, v[2] * step, nil
}
