package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xeipuuv/gojsonschema"

	"github.com/elephant-xyz/submit-files/internal/contentaddress"
	"github.com/elephant-xyz/submit-files/internal/ledgersubmitter"
	"github.com/elephant-xyz/submit-files/internal/logger"
	"github.com/elephant-xyz/submit-files/internal/model"
	"github.com/elephant-xyz/submit-files/internal/reporter"
	"github.com/elephant-xyz/submit-files/internal/scanner"
	"github.com/elephant-xyz/submit-files/internal/schemavalidator"
	"github.com/elephant-xyz/submit-files/internal/uploader"
	"github.com/elephant-xyz/submit-files/pkg/canonical"
)

const (
	propA = "QmTzQ1N1cYYWMYYLBn6oL6JfK7C3CjPf9Cj2jJmWBGNkGX"
	propB = "QmZuUXcjJdJfJf2KcP2s7tKzKqJQYrVM9T5SGnUaVnbYxS"
	groupA = "QmZuUXcjJdJfJf2KcP2s7tKzKqJQYrVM9T5SGnUaVnbYxT"
	groupB = "QmZuUXcjJdJfJf2KcP2s7tKzKqJQYrVM9T5SGnUaVnbYxU"
)

func writeFixture(t *testing.T, root, prop, group string) string {
	t.Helper()
	dir := filepath.Join(root, prop)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, group+".json")
	if err := os.WriteFile(path, []byte(`{"amount":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fakeAssignment struct{ set map[string]struct{} }

func (f fakeAssignment) AssignedGroupCIDs(ctx context.Context, identity string) map[string]struct{} {
	return f.set
}

type fakeSchemas struct{ schema *gojsonschema.Schema }

func (f fakeSchemas) Get(ctx context.Context, schemaCID string) (*gojsonschema.Schema, error) {
	if f.schema == nil {
		return nil, errors.New("no schema")
	}
	return f.schema, nil
}

type fakeValidator struct{ invalid map[string]bool }

func (f fakeValidator) Validate(ctx context.Context, value interface{}, schemaCID string, schema *gojsonschema.Schema, basePath string) (schemavalidator.Result, error) {
	if f.invalid[basePath] {
		return schemavalidator.Result{Valid: false, Errors: []schemavalidator.FieldError{{Pointer: "/amount", Message: "too small"}}}, nil
	}
	return schemavalidator.Result{Valid: true}, nil
}

type fakeOracle struct{ anchored map[[2]string]string }

func (f fakeOracle) CurrentDataCID(ctx context.Context, propertyID, groupID string) (string, bool, error) {
	cid, ok := f.anchored[[2]string{propertyID, groupID}]
	return cid, ok, nil
}

type fakeUploader struct{ fail map[string]bool }

func (f fakeUploader) UploadBatch(ctx context.Context, candidates []uploader.Candidate) []uploader.Result {
	out := make([]uploader.Result, 0, len(candidates))
	for _, c := range candidates {
		if f.fail[c.GroupID] {
			out = append(out, uploader.Result{PropertyID: c.PropertyID, GroupID: c.GroupID, Success: false, Err: errors.New("pin failed")})
			continue
		}
		out = append(out, uploader.Result{PropertyID: c.PropertyID, GroupID: c.GroupID, Success: true, CID: c.ComputedCID})
	}
	return out
}

type fakeSubmitter struct {
	batchSize int
	submitErr error
}

func (f fakeSubmitter) GroupIntoBatches(items []model.DataItem) [][]model.DataItem {
	size := f.batchSize
	if size < 1 {
		size = len(items)
	}
	var batches [][]model.DataItem
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

func (f fakeSubmitter) SubmitAll(ctx context.Context, items []model.DataItem) <-chan ledgersubmitter.SubmitOutcome {
	out := make(chan ledgersubmitter.SubmitOutcome)
	go func() {
		defer close(out)
		for _, b := range f.GroupIntoBatches(items) {
			if f.submitErr != nil {
				out <- ledgersubmitter.SubmitOutcome{Err: f.submitErr}
				return
			}
			out <- ledgersubmitter.SubmitOutcome{Receipt: model.BatchReceipt{TxHash: "0xabc", ItemsSubmitted: len(b)}}
		}
	}()
	return out
}

func schemaFor(t *testing.T, raw string) *gojsonschema.Schema {
	t.Helper()
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		t.Fatalf("building schema: %v", err)
	}
	return s
}

func newTestEngine(root string, cfg Config, ov func(*Engine)) (*Engine, *reporter.Reporter, *os.File, *os.File) {
	errF, _ := os.CreateTemp("", "err-*.csv")
	warnF, _ := os.CreateTemp("", "warn-*.csv")
	rep, _ := reporter.New(errF, warnF)

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{},
		fakeValidator{},
		fakeOracle{},
		fakeUploader{},
		fakeSubmitter{},
		rep,
		logger.NewTextLogger(),
		cfg,
	)
	if ov != nil {
		ov(e)
	}
	return e, rep, errF, warnF
}

func TestRun_HappyPath(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)

	schema := schemaFor(t, `{"type":"object"}`)
	cfg := Config{Root: root, BatchSize: 10}

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{schema: schema},
		fakeValidator{},
		fakeOracle{},
		fakeUploader{},
		fakeSubmitter{batchSize: 10},
		mustReporter(t),
		logger.NewTextLogger(),
		cfg,
	)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Metrics.Valid != 1 || result.Metrics.Uploaded != 1 || result.Metrics.Submitted != 1 {
		t.Fatalf("unexpected metrics: %+v", result.Metrics)
	}
	if result.Summary.ErrorCount != 0 {
		t.Errorf("expected no errors, got %d", result.Summary.ErrorCount)
	}
}

func TestRun_AlreadyAnchoredSkipsSubmission(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)
	schema := schemaFor(t, `{"type":"object"}`)

	value, err := canonical.DecodeNumberPreserving([]byte(`{"amount":1}`))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	canonicalBytes, err := canonical.MarshalJSON(value)
	if err != nil {
		t.Fatalf("canonicalize fixture: %v", err)
	}
	expectedCID, err := contentaddress.Of(canonicalBytes)
	if err != nil {
		t.Fatalf("compute fixture CID: %v", err)
	}

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{schema: schema},
		fakeValidator{},
		fakeOracleAnyAnchored{cid: expectedCID},
		fakeUploader{},
		fakeSubmitter{batchSize: 10},
		mustReporter(t),
		logger.NewTextLogger(),
		Config{Root: root, BatchSize: 10},
	)

	result, runErr := e.Run(context.Background())
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if result.Metrics.Uploaded != 0 || result.Metrics.Submitted != 0 {
		t.Fatalf("expected dedupe to block upload/submit, got %+v", result.Metrics)
	}
	if result.Summary.WarningCount != 1 {
		t.Errorf("expected 1 warning row, got %d", result.Summary.WarningCount)
	}
}

// fakeOracleAnyAnchored reports every (property, group) as already
// anchored at the given CID, forcing the dedupe path.
type fakeOracleAnyAnchored struct{ cid string }

func (f fakeOracleAnyAnchored) CurrentDataCID(ctx context.Context, propertyID, groupID string) (string, bool, error) {
	return f.cid, true, nil
}

func TestRun_SchemaViolationEmitsError(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)
	schema := schemaFor(t, `{"type":"object"}`)

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{schema: schema},
		fakeValidator{invalid: map[string]bool{root + string(os.PathSeparator) + propA: true}},
		fakeOracle{},
		fakeUploader{},
		fakeSubmitter{batchSize: 10},
		mustReporter(t),
		logger.NewTextLogger(),
		Config{Root: root, BatchSize: 10},
	)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Metrics.Invalid != 1 || result.Metrics.Valid != 0 {
		t.Fatalf("unexpected metrics: %+v", result.Metrics)
	}
	if result.Summary.ErrorCount != 1 {
		t.Errorf("expected 1 error row, got %d", result.Summary.ErrorCount)
	}
}

func TestRun_AssignmentFilterSkipsUnassignedGroups(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)
	writeFixture(t, root, propB, groupB)
	schema := schemaFor(t, `{"type":"object"}`)

	e := New(
		scanner.New(root),
		fakeAssignment{set: map[string]struct{}{groupA: {}}},
		fakeSchemas{schema: schema},
		fakeValidator{},
		fakeOracle{},
		fakeUploader{},
		fakeSubmitter{batchSize: 10},
		mustReporter(t),
		logger.NewTextLogger(),
		Config{Root: root, BatchSize: 10},
	)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Metrics.Skipped != 1 {
		t.Fatalf("expected 1 skipped entry, got %d", result.Metrics.Skipped)
	}
	if result.Metrics.Valid != 1 {
		t.Fatalf("expected 1 valid entry, got %d", result.Metrics.Valid)
	}
}

func TestRun_DryRunBypassesUploadAndSubmit(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)
	schema := schemaFor(t, `{"type":"object"}`)

	uploaderCalled := false
	u := trackingUploader{called: &uploaderCalled}

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{schema: schema},
		fakeValidator{},
		fakeOracle{},
		u,
		fakeSubmitter{batchSize: 10},
		mustReporter(t),
		logger.NewTextLogger(),
		Config{Root: root, BatchSize: 10, DryRun: true},
	)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if uploaderCalled {
		t.Error("dry-run must not call the uploader")
	}
	if result.Metrics.Uploaded != 0 {
		t.Errorf("dry-run must not count real uploads, got %d", result.Metrics.Uploaded)
	}
	if result.Metrics.Submitted != 0 {
		t.Errorf("dry-run must not report real submissions, got %d", result.Metrics.Submitted)
	}
}

type trackingUploader struct{ called *bool }

func (t trackingUploader) UploadBatch(ctx context.Context, candidates []uploader.Candidate) []uploader.Result {
	*t.called = true
	return nil
}

func TestRun_UploadFailureEmitsErrorRow(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)
	schema := schemaFor(t, `{"type":"object"}`)

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{schema: schema},
		fakeValidator{},
		fakeOracle{},
		fakeUploader{fail: map[string]bool{groupA: true}},
		fakeSubmitter{batchSize: 10},
		mustReporter(t),
		logger.NewTextLogger(),
		Config{Root: root, BatchSize: 10},
	)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Summary.ErrorCount != 1 {
		t.Fatalf("expected 1 error row from failed upload, got %d", result.Summary.ErrorCount)
	}
	if result.Metrics.Submitted != 0 {
		t.Errorf("expected nothing submitted, got %d", result.Metrics.Submitted)
	}
}

func TestRun_SubmissionFailureIsFatal(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)
	schema := schemaFor(t, `{"type":"object"}`)

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{schema: schema},
		fakeValidator{},
		fakeOracle{},
		fakeUploader{},
		fakeSubmitter{batchSize: 10, submitErr: errors.New("execution reverted")},
		mustReporter(t),
		logger.NewTextLogger(),
		Config{Root: root, BatchSize: 10},
	)

	_, err := e.Run(context.Background())
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

type recordingProgress struct{ phases []model.Phase }

func (r *recordingProgress) SetPhase(phase model.Phase) {
	r.phases = append(r.phases, phase)
}

func (r *recordingProgress) Render(m model.ProgressMetrics) {}

func TestRun_ReportsEveryPhaseTransition(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, propA, groupA)
	schema := schemaFor(t, `{"type":"object"}`)

	e := New(
		scanner.New(root),
		fakeAssignment{},
		fakeSchemas{schema: schema},
		fakeValidator{},
		fakeOracle{},
		fakeUploader{},
		fakeSubmitter{batchSize: 10},
		mustReporter(t),
		logger.NewTextLogger(),
		Config{Root: root, BatchSize: 10},
	)
	rec := &recordingProgress{}
	e.SetProgress(rec)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []model.Phase{
		model.PhaseDiscovery, model.PhaseAssignment, model.PhaseValidation,
		model.PhaseValidation, model.PhaseProcessing, model.PhaseUpload,
		model.PhaseSubmission, model.PhaseDone,
	}
	if len(rec.phases) != len(want) {
		t.Fatalf("expected %d phase transitions, got %d: %v", len(want), len(rec.phases), rec.phases)
	}
	for i, p := range want {
		if rec.phases[i] != p {
			t.Errorf("phase %d: expected %s, got %s", i, p, rec.phases[i])
		}
	}
}

func TestRun_InvalidRootIsFatal(t *testing.T) {
	e, _, _, _ := newTestEngine("/nonexistent/does/not/exist", Config{BatchSize: 10}, nil)
	_, err := e.Run(context.Background())
	if !errors.Is(err, ErrInputStructure) {
		t.Fatalf("expected ErrInputStructure, got %v", err)
	}
}

func mustReporter(t *testing.T) *reporter.Reporter {
	t.Helper()
	errF, err := os.CreateTemp("", "err-*.csv")
	if err != nil {
		t.Fatal(err)
	}
	warnF, err := os.CreateTemp("", "warn-*.csv")
	if err != nil {
		t.Fatal(err)
	}
	rep, err := reporter.New(errF, warnF)
	if err != nil {
		t.Fatal(err)
	}
	return rep
}
