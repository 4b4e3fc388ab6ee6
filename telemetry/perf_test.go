package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseGrid)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseDensity)
		time.Sleep(200 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration")
	}
	if _, ok := stats.PhaseAvg[PhaseGrid]; !ok {
		t.Error("expected grid phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseDensity]; !ok {
		t.Error("expected density phase to be tracked")
	}
}

func TestPerfCollector_PhaseAccumulatesAcrossSolvers(t *testing.T) {
	pc := NewPerfCollector(1)

	pc.StartTick()
	pc.StartPhase(PhasePredict)
	time.Sleep(200 * time.Microsecond)
	pc.StartPhase(PhaseCommit)
	pc.StartPhase(PhasePredict)
	time.Sleep(200 * time.Microsecond)
	pc.EndTick()

	stats := pc.Stats()
	if got := stats.PhaseAvg[PhasePredict]; got < 400*time.Microsecond {
		t.Errorf("predict = %v, want >= 400us summed over both runs", got)
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)

	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseGrid)
		pc.EndTick()
	}

	stats := pc.Stats()
	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration after window filled")
	}
	if stats.TicksPerSecond <= 0 {
		t.Error("expected positive ticks per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseCommit)
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase(PhaseConstraint)
		time.Sleep(100 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()
	fast := stats.PhasePct[PhaseCommit]
	slow := stats.PhasePct[PhaseConstraint]
	if slow <= fast {
		t.Errorf("expected constraint (%v%%) > commit (%v%%)", slow, fast)
	}

	row := stats.ToCSV(42)
	if row.WindowEnd != 42 || row.ConstraintPct != slow {
		t.Errorf("ToCSV = %+v", row)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	stats := NewPerfCollector(10).Stats()

	if stats.AvgTickDuration != 0 {
		t.Error("expected zero avg tick duration for empty collector")
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("expected non-nil phase maps")
	}
}
