package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkLeak         BookmarkType = "leak"
	BookmarkDensitySpike BookmarkType = "density_spike"
	BookmarkEnergySpike  BookmarkType = "energy_spike"
	BookmarkSettled      BookmarkType = "settled"
)

const (
	settledWindows    = 5
	settledSpeed      = 0.05
	minEnergyForSpike = 1e-6
	spikeFactor       = 2.0
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Tick        int64        `csv:"tick"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"description", b.Description,
	)
}

// BookmarkDetector detects interesting moments in the simulation.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []StepStats
	historySize int
	historyIdx  int
	historyFull bool

	lastLeaked         int
	settledWindowCount int
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5
	}
	return &BookmarkDetector{
		history:     make([]StepStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats StepStats) []Bookmark {
	var bookmarks []Bookmark

	if b := bd.checkLeak(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkDensitySpike(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkEnergySpike(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkSettled(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	bd.lastLeaked = stats.Leaked

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats StepStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []StepStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

// checkLeak fires whenever more fluid has escaped the container than in the
// previous window.
func (bd *BookmarkDetector) checkLeak(stats StepStats) *Bookmark {
	if stats.Leaked <= bd.lastLeaked {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkLeak,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("%d fluid particles outside the boundary (was %d)", stats.Leaked, bd.lastLeaked),
	}
}

func (bd *BookmarkDetector) checkDensitySpike(stats StepStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.DensityMax
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.DensityMax > avg*spikeFactor {
		return &Bookmark{
			Type:        BookmarkDensitySpike,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Max density %.1f is %.1fx average (%.1f)", stats.DensityMax, stats.DensityMax/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkEnergySpike(stats StepStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.KineticEnergy
	}
	avg := total / float64(len(history))
	if avg < minEnergyForSpike {
		return nil
	}

	if stats.KineticEnergy > avg*spikeFactor {
		return &Bookmark{
			Type:        BookmarkEnergySpike,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Kinetic energy %.3g is %.1fx average (%.3g)", stats.KineticEnergy, stats.KineticEnergy/avg, avg),
		}
	}
	return nil
}

// checkSettled fires once when the fluid has stayed slow for settledWindows
// consecutive windows.
func (bd *BookmarkDetector) checkSettled(stats StepStats) *Bookmark {
	if stats.FluidCount == 0 || stats.MaxSpeed >= settledSpeed {
		bd.settledWindowCount = 0
		return nil
	}

	bd.settledWindowCount++
	if bd.settledWindowCount == settledWindows {
		return &Bookmark{
			Type:        BookmarkSettled,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Fluid settled: max speed %.3f over %d windows", stats.MaxSpeed, settledWindows),
		}
	}
	return nil
}
