package telemetry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/pbdfluid/config"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestOutputManager_Disabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v; want nil, nil", om, err)
	}
	// Every method is a no-op on a nil manager.
	if err := om.WriteSteps(StepStats{}); err != nil {
		t.Error(err)
	}
	if err := om.WritePerf(PerfStats{}, 0); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
	if om.Dir() != "" {
		t.Error("nil manager reports a directory")
	}
}

func TestOutputManager_HeaderOnce(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 3; i++ {
		if err := om.WriteSteps(StepStats{WindowEndTick: i * 60, FluidCount: 10}); err != nil {
			t.Fatal(err)
		}
	}
	if err := om.WritePerf(NewPerfCollector(1).Stats(), 60); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteBookmark(Bookmark{Type: BookmarkLeak, Tick: 60, Description: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	steps := readCSV(t, filepath.Join(dir, "steps.csv"))
	if len(steps) != 4 {
		t.Fatalf("steps.csv has %d rows, want header + 3", len(steps))
	}
	if steps[0][0] != "window_end" || steps[3][0] != "180" {
		t.Errorf("steps.csv = %v", steps)
	}

	perf := readCSV(t, filepath.Join(dir, "perf.csv"))
	if len(perf) != 2 || perf[0][0] != "window_end" {
		t.Errorf("perf.csv = %v", perf)
	}

	bms := readCSV(t, filepath.Join(dir, "bookmarks.csv"))
	if len(bms) != 2 || bms[1][0] != "leak" {
		t.Errorf("bookmarks.csv = %v", bms)
	}
}

func TestOutputManager_WriteConfigAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer om.Close()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := om.WriteConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	path, err := om.WriteSnapshot(&Snapshot{Version: SnapshotVersion, Tick: 7})
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "snapshots", "snapshot_7.json"); path != want {
		t.Errorf("snapshot path = %s, want %s", path, want)
	}
}
