// Package progress renders a ProgressMetrics snapshot to an io.Writer as
// a single overwritten status line. Progress-bar rendering is out of
// scope for the pipeline engine itself; this is the minimal stderr
// collaborator the CLI wires in its place.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/elephant-xyz/submit-files/internal/model"
)

// Renderer writes successive ProgressMetrics snapshots to w, each
// overwriting the previous line.
type Renderer struct {
	mu     sync.Mutex
	w      io.Writer
	total  int
	phase  model.Phase
	lastAt time.Time
}

// New returns a Renderer targeting w. total is the entry count from
// phase 1's count() call, used only to compute a percentage; zero means
// the percentage is omitted.
func New(w io.Writer, total int) *Renderer {
	return &Renderer{w: w, total: total}
}

// SetPhase records the engine's current phase for the next Render call.
func (r *Renderer) SetPhase(phase model.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
}

// Render prints one status line for the given snapshot.
func (r *Renderer) Render(m model.ProgressMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	processed := m.Valid + m.Invalid + m.Skipped
	line := fmt.Sprintf("\r[%s] scanned=%d valid=%d invalid=%d skipped=%d uploaded=%d submitted=%d errors=%d warnings=%d",
		r.phase, m.Scanned, m.Valid, m.Invalid, m.Skipped, m.Uploaded, m.Submitted, m.Errors, m.Warnings)
	if r.total > 0 {
		pct := float64(processed) / float64(r.total) * 100
		line = fmt.Sprintf("%s (%.0f%%)", line, pct)
	}
	fmt.Fprint(r.w, line)
	r.lastAt = time.Now()
}

// Done terminates the status line with a trailing newline and prints the
// final summary.
func (r *Renderer) Done(m model.ProgressMetrics, summary Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "scanned=%d valid=%d invalid=%d skipped=%d uploaded=%d submitted=%d errors=%d warnings=%d\n",
		m.Scanned, m.Valid, m.Invalid, m.Skipped, m.Uploaded, m.Submitted, m.Errors, m.Warnings)
	fmt.Fprintf(r.w, "errors: %s (%d row(s))\n", summary.ErrorCSVPath, summary.ErrorCount)
	fmt.Fprintf(r.w, "warnings: %s (%d row(s))\n", summary.WarningCSVPath, summary.WarningCount)
}

// Summary carries the reporter's finalization counts plus the paths the
// CLI wrote them to, so Done can print both in one place.
type Summary struct {
	ErrorCSVPath   string
	WarningCSVPath string
	ErrorCount     int
	WarningCount   int
}
