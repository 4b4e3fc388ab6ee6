package telemetry

import "testing"

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_Leak(t *testing.T) {
	bd := NewBookmarkDetector(10)

	if bms := bd.Check(StepStats{WindowEndTick: 60}); hasBookmark(bms, BookmarkLeak) {
		t.Error("unexpected leak bookmark with nothing leaked")
	}
	if bms := bd.Check(StepStats{WindowEndTick: 120, Leaked: 2}); !hasBookmark(bms, BookmarkLeak) {
		t.Error("expected leak bookmark")
	}
	// Same count again does not re-trigger.
	if bms := bd.Check(StepStats{WindowEndTick: 180, Leaked: 2}); hasBookmark(bms, BookmarkLeak) {
		t.Error("leak bookmark re-triggered without new leaks")
	}
}

func TestBookmarkDetector_DensitySpike(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(StepStats{WindowEndTick: int64(i * 60), DensityMax: 1100})
	}

	bms := bd.Check(StepStats{WindowEndTick: 300, DensityMax: 5000})
	if !hasBookmark(bms, BookmarkDensitySpike) {
		t.Error("expected density_spike bookmark")
	}
}

func TestBookmarkDetector_EnergySpikeNeedsHistory(t *testing.T) {
	bd := NewBookmarkDetector(10)

	bd.Check(StepStats{KineticEnergy: 1})
	if bms := bd.Check(StepStats{KineticEnergy: 100}); hasBookmark(bms, BookmarkEnergySpike) {
		t.Error("energy spike fired with less than three windows of history")
	}

	bd.Check(StepStats{KineticEnergy: 1})
	if bms := bd.Check(StepStats{KineticEnergy: 500}); !hasBookmark(bms, BookmarkEnergySpike) {
		t.Error("expected energy_spike bookmark")
	}
}

func TestBookmarkDetector_SettledOnce(t *testing.T) {
	bd := NewBookmarkDetector(10)

	fired := 0
	for i := 0; i < 12; i++ {
		bms := bd.Check(StepStats{WindowEndTick: int64(i * 60), FluidCount: 100, MaxSpeed: 0.01})
		if hasBookmark(bms, BookmarkSettled) {
			fired++
			if i != settledWindows-1 {
				t.Errorf("settled fired at window %d, want %d", i, settledWindows-1)
			}
		}
	}
	if fired != 1 {
		t.Errorf("settled fired %d times, want 1", fired)
	}
}

func TestBookmarkDetector_SettledResets(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < settledWindows-1; i++ {
		bd.Check(StepStats{FluidCount: 100, MaxSpeed: 0.01})
	}
	bd.Check(StepStats{FluidCount: 100, MaxSpeed: 3})
	if bms := bd.Check(StepStats{FluidCount: 100, MaxSpeed: 0.01}); hasBookmark(bms, BookmarkSettled) {
		t.Error("settled fired after a fast window reset the count")
	}
}
