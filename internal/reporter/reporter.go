// Package reporter appends structured error and warning rows to two
// CSV sinks and produces a finalization summary.
package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/elephant-xyz/submit-files/internal/model"
)

var errorHeader = []string{"propertyCid", "dataGroupCid", "filePath", "error", "timestamp"}
var warningHeader = []string{"propertyCid", "dataGroupCid", "filePath", "reason", "timestamp"}

// Summary is the finalize() outcome.
type Summary struct {
	ErrorCount   int
	WarningCount int
}

// Reporter owns the two append-only CSV sinks.
type Reporter struct {
	mu sync.Mutex

	errW io.Closer
	errC *csv.Writer

	warnW io.Closer
	warnC *csv.Writer

	errorCount   int
	warningCount int
}

// nopCloser wraps a writer that doesn't need closing (e.g. a bytes.Buffer
// in tests) so Reporter can treat every sink uniformly.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// New opens errW and warnW as append-only CSV sinks, writing the header
// row to each. Pass writers already positioned at the sinks' existing
// tail when resuming into a pre-existing file; New always writes a fresh
// header, so callers creating new files should pass them truncated.
func New(errW, warnW io.Writer) (*Reporter, error) {
	r := &Reporter{
		errW:  toCloser(errW),
		warnW: toCloser(warnW),
	}

	r.errC = csv.NewWriter(errW)
	r.warnC = csv.NewWriter(warnW)

	if err := r.errC.Write(errorHeader); err != nil {
		return nil, fmt.Errorf("reporter: writing error header: %w", err)
	}
	r.errC.Flush()
	if err := r.errC.Error(); err != nil {
		return nil, fmt.Errorf("reporter: flushing error header: %w", err)
	}

	if err := r.warnC.Write(warningHeader); err != nil {
		return nil, fmt.Errorf("reporter: writing warning header: %w", err)
	}
	r.warnC.Flush()
	if err := r.warnC.Error(); err != nil {
		return nil, fmt.Errorf("reporter: flushing warning header: %w", err)
	}

	return r, nil
}

// OpenFiles creates (or truncates) the error and warning CSV files at
// errPath and warnPath and returns a Reporter backed by them.
func OpenFiles(errPath, warnPath string) (*Reporter, error) {
	errF, err := os.Create(errPath)
	if err != nil {
		return nil, fmt.Errorf("reporter: creating error sink: %w", err)
	}
	warnF, err := os.Create(warnPath)
	if err != nil {
		errF.Close()
		return nil, fmt.Errorf("reporter: creating warning sink: %w", err)
	}
	return New(errF, warnF)
}

func toCloser(w io.Writer) io.Closer {
	if c, ok := w.(io.Closer); ok {
		return c
	}
	return nopCloser{w}
}

// LogError appends one error row. The write is flushed before returning,
// so the row is durable to line granularity on success.
func (r *Reporter) LogError(row model.ErrorRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	rec := []string{row.PropertyID, row.GroupID, row.Path, row.Error, row.Timestamp.Format(time.RFC3339)}
	if err := r.errC.Write(rec); err != nil {
		return fmt.Errorf("reporter: writing error row: %w", err)
	}
	r.errC.Flush()
	if err := r.errC.Error(); err != nil {
		return fmt.Errorf("reporter: flushing error row: %w", err)
	}
	r.errorCount++
	return nil
}

// LogWarning appends one warning row, flushed before returning.
func (r *Reporter) LogWarning(row model.WarningRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	rec := []string{row.PropertyID, row.GroupID, row.Path, row.Reason, row.Timestamp.Format(time.RFC3339)}
	if err := r.warnC.Write(rec); err != nil {
		return fmt.Errorf("reporter: writing warning row: %w", err)
	}
	r.warnC.Flush()
	if err := r.warnC.Error(); err != nil {
		return fmt.Errorf("reporter: flushing warning row: %w", err)
	}
	r.warningCount++
	return nil
}

// Finalize flushes and closes both sinks and returns the row counts.
func (r *Reporter) Finalize() (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errC.Flush()
	r.warnC.Flush()

	if err := r.errW.Close(); err != nil {
		return Summary{}, fmt.Errorf("reporter: closing error sink: %w", err)
	}
	if err := r.warnW.Close(); err != nil {
		return Summary{}, fmt.Errorf("reporter: closing warning sink: %w", err)
	}

	return Summary{ErrorCount: r.errorCount, WarningCount: r.warningCount}, nil
}
