package worker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/liveodm/internal/fit"
)

// Stats is a snapshot of the worker counters.
type Stats struct {
	Received       uint64 `json:"received"`
	Discarded      uint64 `json:"discarded"`
	Malformed      uint64 `json:"malformed"`
	Fitted         uint64 `json:"fitted"`
	Empty          uint64 `json:"empty"`
	Emitted        uint64 `json:"emitted"`
	FailedPeaks    uint64 `json:"failed_peaks"`
	Panics         uint64 `json:"panics"`
	Commands       uint64 `json:"commands"`
	Ignored        uint64 `json:"ignored"`
	DroppedResults uint64 `json:"dropped_results"`
}

// Stats returns the current counters. It is safe to call concurrently.
func (w *Worker) Stats() Stats {
	return Stats{
		Received:       w.stats.received.Load(),
		Discarded:      w.stats.discarded.Load(),
		Malformed:      w.stats.malformed.Load(),
		Fitted:         w.stats.fitted.Load(),
		Empty:          w.stats.empty.Load(),
		Emitted:        w.stats.emitted.Load(),
		FailedPeaks:    w.stats.failedPeaks.Load(),
		Panics:         w.stats.panics.Load(),
		Commands:       w.stats.commands.Load(),
		Ignored:        w.stats.ignored.Load(),
		DroppedResults: w.outbox.Dropped() + w.outbox.Failed(),
	}
}

// PeakSnapshot describes the configuration of one peak.
type PeakSnapshot struct {
	Peak        string    `json:"peak"`
	FitFunction string    `json:"fit_function,omitempty"`
	Window      string    `json:"window,omitempty"`
	Estimate    []float64 `json:"estimate"`
	Ready       bool      `json:"ready"`
}

// Snapshot is the state reported by printState and the debug page.
type Snapshot struct {
	ID    string         `json:"id,omitempty"`
	State string         `json:"state"`
	Ready bool           `json:"ready"`
	Peaks []PeakSnapshot `json:"peaks"`
	Stats Stats          `json:"stats"`
}

// Snapshot returns the current state of the worker. It is safe to call
// concurrently with the loop.
func (w *Worker) Snapshot() Snapshot {
	s := Snapshot{
		ID:    w.cfg.ID,
		State: w.State().String(),
		Stats: w.Stats(),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s.Ready = w.engine.IsReady()
	for _, p := range fit.Peaks {
		ps := PeakSnapshot{Peak: p.String(), Estimate: w.engine.Estimate(p)}
		m, hasModel := w.engine.FitFunction(p)
		if hasModel {
			ps.FitFunction = m.Name()
		}
		win, hasWindow := w.engine.Window(p)
		if hasWindow {
			ps.Window = win.String()
		}
		ps.Ready = hasModel && hasWindow
		s.Peaks = append(s.Peaks, ps)
	}
	return s
}

func (w *Worker) printState() {
	s := w.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s ready=%t", s.State, s.Ready)
	for _, p := range s.Peaks {
		fmt.Fprintf(&b, " %s{fn=%q window=%s estimate=%v}", p.Peak, p.FitFunction, p.Window, p.Estimate)
	}
	fmt.Fprintf(&b, " received=%d fitted=%d emitted=%d failed_peaks=%d dropped=%d",
		s.Stats.Received, s.Stats.Fitted, s.Stats.Emitted, s.Stats.FailedPeaks, s.Stats.DroppedResults)
	w.logf("%s", b.String())
}

// AttachDebugRoutes registers the fitworker page on the tsweb debugger of
// mux. The page serves the Snapshot as JSON.
func (w *Worker) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("fitworker", "fitting worker state and counters", w.serveSnapshot)
}

func (w *Worker) serveSnapshot(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(rw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.Snapshot()); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
	}
}
