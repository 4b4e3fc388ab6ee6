package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/components"
)

func TestSnapshotSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	fluid, solid, boundary := testBodies(t)
	fluid.Velocities.Read()[3] = components.Direction(r3.Vec{X: 1, Y: 2, Z: 3})

	snapshot := CaptureSnapshot(1000, 16.5, &fluid.ParticleSet, &solid.ParticleSet, &boundary.ParticleSet)
	snapshot.Bookmark = &Bookmark{Type: BookmarkSettled, Tick: 1000, Description: "Test bookmark"}

	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Snapshot file not created at %s", path)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if loaded.Tick != 1000 || loaded.SimTime != 16.5 {
		t.Errorf("Tick/SimTime = %d/%v", loaded.Tick, loaded.SimTime)
	}
	if len(loaded.Bodies) != 3 {
		t.Fatalf("Bodies = %d, want 3", len(loaded.Bodies))
	}
	if loaded.Bodies[0].Kind != "fluid" || len(loaded.Bodies[0].Positions) != fluid.NumParticles {
		t.Errorf("fluid body = %s with %d positions", loaded.Bodies[0].Kind, len(loaded.Bodies[0].Positions))
	}
	if got := loaded.Bodies[0].Velocities[3]; got != [3]float64{1, 2, 3} {
		t.Errorf("velocity[3] = %v", got)
	}
	// The boundary has no velocity buffer.
	if loaded.Bodies[2].Velocities != nil {
		t.Error("boundary snapshot carries velocities")
	}
	if loaded.Bookmark == nil || loaded.Bookmark.Type != BookmarkSettled {
		t.Errorf("Bookmark = %+v", loaded.Bookmark)
	}
}

func TestSnapshotRestore(t *testing.T) {
	fluid, solid, _ := testBodies(t)
	snapshot := CaptureSnapshot(10, 0.1, &fluid.ParticleSet, &solid.ParticleSet)
	want := fluid.Positions[5]

	// Disturb the live state, then restore.
	fluid.Positions[5] = components.Point(r3.Vec{X: 99})
	fluid.Velocities.Read()[5] = components.Direction(r3.Vec{Y: 7})

	if err := snapshot.Restore(&fluid.ParticleSet, &solid.ParticleSet); err != nil {
		t.Fatal(err)
	}
	if fluid.Positions[5] != want {
		t.Errorf("position = %+v, want %+v", fluid.Positions[5], want)
	}
	if fluid.Predicted.Read()[5] != want {
		t.Errorf("predicted = %+v, want %+v", fluid.Predicted.Read()[5], want)
	}
	if v := fluid.Velocities.Read()[5]; v.Y != 0 {
		t.Errorf("velocity = %+v, want rest", v)
	}
}

func TestSnapshotRestoreMismatch(t *testing.T) {
	fluid, solid, _ := testBodies(t)
	snapshot := CaptureSnapshot(0, 0, &solid.ParticleSet)

	err := snapshot.Restore(&fluid.ParticleSet)
	if !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("missing body: err = %v, want ErrSnapshotMismatch", err)
	}

	snapshot.Bodies[0].Kind = "fluid"
	err = snapshot.Restore(&fluid.ParticleSet)
	if !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("count mismatch: err = %v, want ErrSnapshotMismatch", err)
	}
}

func TestSnapshotSkipsDisposed(t *testing.T) {
	fluid, solid, _ := testBodies(t)
	solid.Dispose()

	snapshot := CaptureSnapshot(0, 0, &fluid.ParticleSet, &solid.ParticleSet, (*bodies.ParticleSet)(nil))
	if len(snapshot.Bodies) != 1 {
		t.Errorf("Bodies = %d, want 1", len(snapshot.Bodies))
	}
}

func TestSnapshotFilename(t *testing.T) {
	tmpDir := t.TempDir()

	snapshot := &Snapshot{
		Version:  SnapshotVersion,
		Tick:     5000,
		Bookmark: &Bookmark{Type: BookmarkDensitySpike, Tick: 5000},
	}
	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if expected := filepath.Join(tmpDir, "snapshot_5000_density_spike.json"); path != expected {
		t.Errorf("Path mismatch: got %s, want %s", path, expected)
	}

	path, err = SaveSnapshot(&Snapshot{Version: SnapshotVersion, Tick: 3000}, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if expected := filepath.Join(tmpDir, "snapshot_3000.json"); path != expected {
		t.Errorf("Path mismatch: got %s, want %s", path, expected)
	}
}

func TestLoadSnapshotVersion(t *testing.T) {
	tmpDir := t.TempDir()
	path, err := SaveSnapshot(&Snapshot{Version: SnapshotVersion + 1, Tick: 1}, tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(path); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("err = %v, want ErrSnapshotMismatch", err)
	}
}
