// Package gate serializes ingestion runs so the serving layer never
// overlaps two pipelines or reads mid-run data.
package gate

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/admitdata/harvest-cli/internal/model"
)

// ProgressFunc reports the live progress of the running pipeline.
type ProgressFunc func() model.Progress

// Status is a point-in-time view of the gate.
type Status struct {
	Running     bool             `json:"running"`
	RunID       string           `json:"run_id,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	LastRunID   string           `json:"last_run_id,omitempty"`
	LastOutcome model.RunOutcome `json:"last_outcome,omitempty"`
	LastEndedAt *time.Time       `json:"last_ended_at,omitempty"`
	Progress    *model.Progress  `json:"progress,omitempty"`
}

// Gate admits at most one ingestion run at a time.
type Gate struct {
	mu       sync.Mutex
	running  bool
	runID    string
	started  time.Time
	progress ProgressFunc

	lastRunID   string
	lastOutcome model.RunOutcome
	lastEnded   time.Time
}

func New() *Gate {
	return &Gate{}
}

// TryStart claims the gate. It returns a fresh run ID and true when the
// gate was idle, or the current run's ID and false when a run is active.
func (g *Gate) TryStart(progress ProgressFunc) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return g.runID, false
	}
	g.running = true
	g.runID = uuid.NewString()
	g.started = time.Now().UTC()
	g.progress = progress
	return g.runID, true
}

// Finish releases the gate and records the run's outcome.
func (g *Gate) Finish(outcome model.RunOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	g.lastRunID = g.runID
	g.lastOutcome = outcome
	g.lastEnded = time.Now().UTC()
	g.runID = ""
	g.progress = nil
}

// Running reports whether a run currently holds the gate.
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Status snapshots the gate, including live progress when running.
func (g *Gate) Status() Status {
	g.mu.Lock()
	running := g.running
	runID := g.runID
	started := g.started
	progress := g.progress
	st := Status{
		Running:     running,
		LastRunID:   g.lastRunID,
		LastOutcome: g.lastOutcome,
	}
	if !g.lastEnded.IsZero() {
		ended := g.lastEnded
		st.LastEndedAt = &ended
	}
	g.mu.Unlock()

	if running {
		st.RunID = runID
		st.StartedAt = &started
		if progress != nil {
			p := progress()
			st.Progress = &p
		}
	}
	return st
}
