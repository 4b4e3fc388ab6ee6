package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pthm-cable/pbdfluid/bodies"
	"github.com/pthm-cable/pbdfluid/components"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// ErrSnapshotMismatch is returned when a snapshot does not fit the bodies it
// is restored into.
var ErrSnapshotMismatch = errors.New("telemetry: snapshot does not match bodies")

// Snapshot holds the dynamic state of every body for replay.
type Snapshot struct {
	Version int     `json:"version"`
	Tick    int64   `json:"tick"`
	SimTime float64 `json:"sim_time"`

	Bodies []BodyState `json:"bodies"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// BodyState holds one body's particles.
type BodyState struct {
	Kind       string       `json:"kind"`
	Radius     float64      `json:"radius"`
	Positions  [][3]float64 `json:"positions"`
	Velocities [][3]float64 `json:"velocities,omitempty"`
}

// CaptureSnapshot copies the current positions and velocities of sets.
// Nil and disposed sets are skipped.
func CaptureSnapshot(tick int64, simTime float64, sets ...*bodies.ParticleSet) *Snapshot {
	snap := &Snapshot{Version: SnapshotVersion, Tick: tick, SimTime: simTime}
	for _, b := range sets {
		if b == nil || b.Disposed() {
			continue
		}
		state := BodyState{
			Kind:      b.Kind().String(),
			Radius:    b.ParticleRadius,
			Positions: flatten(b.Positions),
		}
		if b.Velocities.Len() == b.NumParticles {
			state.Velocities = flatten(b.Velocities.Read())
		}
		snap.Bodies = append(snap.Bodies, state)
	}
	return snap
}

func flatten(vs []components.Vec4) [][3]float64 {
	out := make([][3]float64, len(vs))
	for i, v := range vs {
		out[i] = [3]float64{v.X, v.Y, v.Z}
	}
	return out
}

// Restore writes the snapshot back into sets, matched by kind. Positions are
// copied into both the current and predicted buffers so the next step starts
// from the restored state.
func (s *Snapshot) Restore(sets ...*bodies.ParticleSet) error {
	for _, b := range sets {
		if b == nil {
			continue
		}
		state, ok := s.body(b.Kind().String())
		if !ok {
			return fmt.Errorf("no %s body: %w", b.Kind(), ErrSnapshotMismatch)
		}
		if len(state.Positions) != b.NumParticles {
			return fmt.Errorf("%s body has %d particles, snapshot has %d: %w",
				b.Kind(), b.NumParticles, len(state.Positions), ErrSnapshotMismatch)
		}

		for i, p := range state.Positions {
			b.Positions[i] = components.Vec4{X: p[0], Y: p[1], Z: p[2], W: 1}
		}
		if b.Predicted.Len() == b.NumParticles {
			copy(b.Predicted.Read(), b.Positions)
		}
		if len(state.Velocities) == b.NumParticles && b.Velocities.Len() == b.NumParticles {
			vel := b.Velocities.Read()
			for i, v := range state.Velocities {
				vel[i] = components.Vec4{X: v[0], Y: v[1], Z: v[2]}
			}
		}
		b.UpdateBounds()
	}
	return nil
}

func (s *Snapshot) body(kind string) (BodyState, bool) {
	for _, b := range s.Bodies {
		if b.Kind == kind {
			return b, true
		}
	}
	return BodyState{}, false
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Tick)
	if snapshot.Bookmark != nil {
		sanitized := strings.ReplaceAll(string(snapshot.Bookmark.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Tick, sanitized)
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d: %w", snapshot.Version, SnapshotVersion, ErrSnapshotMismatch)
	}

	return &snapshot, nil
}
