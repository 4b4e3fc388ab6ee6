package scene

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/sph"
	"github.com/pthm-cable/pbdfluid/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (s *Scene) flushTelemetry() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}

	var grid sph.GridStats
	if s.fluidSolver != nil {
		grid = s.fluidSolver.Hash.Stats()
	}

	stats := s.collector.Flush(s.tick, s.fluid, s.solid, s.boundary, grid)
	stats.SimTimeSec = s.simTime
	perfStats := s.perf.Stats()

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := s.output.WriteSteps(stats); err != nil {
		slog.Error("failed to write steps", "error", err)
	}
	if err := s.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
		slog.Error("failed to write perf", "error", err)
	}

	for _, bm := range s.bookmarks.Check(stats) {
		if s.logStats {
			bm.LogBookmark()
		}
		if err := s.output.WriteBookmark(bm); err != nil {
			slog.Error("failed to write bookmark", "error", err)
		}
		if s.cfg.Telemetry.SnapshotOnBookmark {
			s.saveSnapshot(&bm)
		}
	}
}

// Snapshot captures the dynamic state of every body.
func (s *Scene) Snapshot() *telemetry.Snapshot {
	var solid *bodies.ParticleSet
	if s.solid != nil {
		solid = &s.solid.ParticleSet
	}
	return telemetry.CaptureSnapshot(s.tick, s.simTime, &s.fluid.ParticleSet, solid)
}

// Restore loads body state from a snapshot taken of a scene with the same
// configuration.
func (s *Scene) Restore(snap *telemetry.Snapshot) error {
	if s.disposed {
		return ErrDisposed
	}
	if err := snap.Restore(&s.fluid.ParticleSet); err != nil {
		return fmt.Errorf("scene: restore: %w", err)
	}
	if s.solid != nil {
		if err := snap.Restore(&s.solid.ParticleSet); err != nil {
			return fmt.Errorf("scene: restore: %w", err)
		}
	}
	s.tick = snap.Tick
	s.simTime = snap.SimTime
	return nil
}

// saveSnapshot writes a snapshot tagged with bookmark to the output directory.
func (s *Scene) saveSnapshot(bookmark *telemetry.Bookmark) {
	snap := s.Snapshot()
	snap.Bookmark = bookmark

	path, err := s.output.WriteSnapshot(snap)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}
	if path != "" {
		slog.Info("snapshot saved", "path", path, "tick", s.tick)
	}
}
