// Package pipeline implements the five-phase engine that drives a
// submission run end to end: discovery, assignment filtering,
// validation, processing, upload, and ledger submission.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/elephant-xyz/submit-files/internal/contentaddress"
	"github.com/elephant-xyz/submit-files/internal/ledgersubmitter"
	"github.com/elephant-xyz/submit-files/internal/logger"
	"github.com/elephant-xyz/submit-files/internal/model"
	"github.com/elephant-xyz/submit-files/internal/reporter"
	"github.com/elephant-xyz/submit-files/internal/schemavalidator"
	"github.com/elephant-xyz/submit-files/internal/uploader"
	"github.com/elephant-xyz/submit-files/pkg/canonical"
)

func contentAddressOf(b []byte) (string, error) {
	return contentaddress.Of(b)
}

// structureScanner is satisfied by *scanner.Scanner.
type structureScanner interface {
	ValidateStructure() error
	Count() (int, error)
	Scan(batchSize int) (<-chan []model.FileEntry, <-chan error)
}

// assignmentSource is satisfied by *assignment.Filter.
type assignmentSource interface {
	AssignedGroupCIDs(ctx context.Context, identity string) map[string]struct{}
}

// schemaResolver is satisfied by *schemacache.Cache.
type schemaResolver interface {
	Get(ctx context.Context, schemaCID string) (*gojsonschema.Schema, error)
}

// documentValidator is satisfied by *schemavalidator.Validator.
type documentValidator interface {
	Validate(ctx context.Context, value interface{}, schemaCID string, schema *gojsonschema.Schema, basePath string) (schemavalidator.Result, error)
}

// progressReporter is satisfied by *progress.Renderer. Optional: a nil
// Engine field disables progress reporting entirely.
type progressReporter interface {
	SetPhase(phase model.Phase)
	Render(m model.ProgressMetrics)
}

// ledgerOracle is satisfied by *ledgeroracle.Oracle.
type ledgerOracle interface {
	CurrentDataCID(ctx context.Context, propertyID, groupID string) (string, bool, error)
}

// uploadBatcher is satisfied by *uploader.Uploader.
type uploadBatcher interface {
	UploadBatch(ctx context.Context, candidates []uploader.Candidate) []uploader.Result
}

// ledgerSubmitter is satisfied by *ledgersubmitter.Submitter.
type ledgerSubmitter interface {
	GroupIntoBatches(items []model.DataItem) [][]model.DataItem
	SubmitAll(ctx context.Context, items []model.DataItem) <-chan ledgersubmitter.SubmitOutcome
}

// reportSink is satisfied by *reporter.Reporter.
type reportSink interface {
	LogError(row model.ErrorRow) error
	LogWarning(row model.WarningRow) error
	Finalize() (reporter.Summary, error)
}

// Config drives one run of Engine.Run.
type Config struct {
	Root      string
	BatchSize int
	Identity  string // identity string passed to the assignment filter
	DryRun    bool
}

// Result is the outcome of a full run.
type Result struct {
	Metrics model.ProgressMetrics
	Summary reporter.Summary
}

// Engine wires the ten leaf components into the five-phase pipeline
// described by the submission spec. Every dependency is a narrow
// interface so tests can supply fakes without touching the network or a
// chain.
type Engine struct {
	scanner    structureScanner
	assignment assignmentSource
	schemas    schemaResolver
	validator  documentValidator
	oracle     ledgerOracle
	uploader   uploadBatcher
	submitter  ledgerSubmitter
	report     reportSink
	log        logger.Logger
	progress   progressReporter

	cfg     Config
	metrics model.ProgressMetrics
}

// New assembles an Engine from its component dependencies.
func New(
	scanner structureScanner,
	assignment assignmentSource,
	schemas schemaResolver,
	validator documentValidator,
	oracle ledgerOracle,
	uploader uploadBatcher,
	submitter ledgerSubmitter,
	report reportSink,
	log logger.Logger,
	cfg Config,
) *Engine {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Engine{
		scanner:    scanner,
		assignment: assignment,
		schemas:    schemas,
		validator:  validator,
		oracle:     oracle,
		uploader:   uploader,
		submitter:  submitter,
		report:     report,
		log:        log,
		cfg:        cfg,
	}
}

// Metrics returns a point-in-time snapshot of the engine's progress
// counters. The counters are not guarded by a lock: reading them from
// another goroutine while Run is in progress is a data race.
func (e *Engine) Metrics() model.ProgressMetrics {
	return e.metrics.Snapshot()
}

// SetProgress attaches a renderer invoked at every phase transition.
// Optional; if never called, the engine runs without progress reporting.
func (e *Engine) SetProgress(p progressReporter) {
	e.progress = p
}

func (e *Engine) reportPhase(phase model.Phase) {
	if e.progress == nil {
		return
	}
	e.progress.SetPhase(phase)
	e.progress.Render(e.metrics.Snapshot())
}

// validated is a FileEntry that passed phase 2, carrying the parsed
// document forward so phase 3 doesn't re-read and re-parse the file.
type validated struct {
	model.FileEntry
	value interface{}
}

// candidate is a validated entry promoted to an upload candidate by
// phase 3.
type candidate struct {
	model.FileEntry
	canonicalBytes []byte
	computedCID    string
}

// Run executes all five phases against cfg.Root and returns the final
// metrics and reporter summary. A non-nil error means the run is fatal
// (bad input structure, or a ledger submission batch exhausted its
// retries); the reporter is always finalized before Run returns.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	runErr := e.run(ctx)

	summary, closeErr := e.report.Finalize()
	if runErr == nil {
		runErr = closeErr
	}

	return Result{Metrics: e.metrics.Snapshot(), Summary: summary}, runErr
}

func (e *Engine) run(ctx context.Context) error {
	// Phase 1 — Discovery.
	e.reportPhase(model.PhaseDiscovery)
	if err := e.scanner.ValidateStructure(); err != nil {
		return fmt.Errorf("%w: %v", ErrInputStructure, err)
	}
	total, err := e.scanner.Count()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputStructure, err)
	}
	e.log.LogInfo(fmt.Sprintf("discovered %d candidate files", total))

	// Phase 1.5 — Assignment.
	e.reportPhase(model.PhaseAssignment)
	assigned := e.assignment.AssignedGroupCIDs(ctx, e.cfg.Identity)
	filtering := len(assigned) > 0

	// Phase 2 — Validation.
	e.reportPhase(model.PhaseValidation)
	var validEntries []validated
	batches, errc := e.scanner.Scan(e.cfg.BatchSize)
	for batch := range batches {
		for _, fe := range batch {
			e.metrics.Scanned++

			if filtering {
				if _, ok := assigned[fe.GroupID]; !ok {
					e.metrics.Skipped++
					e.warn(fe, ErrNotAssigned.Error())
					continue
				}
			}

			v, ok := e.validateEntry(ctx, fe)
			if ok {
				validEntries = append(validEntries, v)
				e.metrics.Valid++
			} else {
				e.metrics.Invalid++
			}
		}
		e.reportPhase(model.PhaseValidation)
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("%w: %v", ErrInputStructure, err)
	}

	// Phase 3 — Processing.
	e.reportPhase(model.PhaseProcessing)
	var candidates []candidate
	for _, v := range validEntries {
		c, ok, err := e.processEntry(ctx, v)
		if err != nil {
			e.fail(v.FileEntry, err)
			continue
		}
		if !ok {
			// Already anchored: emitted as a warning inside processEntry.
			e.metrics.Skipped++
			continue
		}
		candidates = append(candidates, c)
	}

	// Phase 4 — Upload.
	e.reportPhase(model.PhaseUpload)
	items, err := e.upload(ctx, candidates)
	if err != nil {
		return err
	}

	// Phase 5 — Submission.
	e.reportPhase(model.PhaseSubmission)
	if err := e.submit(ctx, items); err != nil {
		return err
	}

	e.reportPhase(model.PhaseDone)
	return nil
}

func (e *Engine) validateEntry(ctx context.Context, fe model.FileEntry) (validated, bool) {
	raw, err := os.ReadFile(fe.Path)
	if err != nil {
		e.fail(fe, fmt.Errorf("%w: %v", ErrFileRead, err))
		return validated{}, false
	}

	value, err := canonical.DecodeNumberPreserving(raw)
	if err != nil {
		e.fail(fe, fmt.Errorf("%w: %v", ErrJSONParse, err))
		return validated{}, false
	}

	schema, err := e.schemas.Get(ctx, fe.GroupID)
	if err != nil {
		e.fail(fe, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err))
		return validated{}, false
	}

	result, err := e.validator.Validate(ctx, value, fe.GroupID, schema, dirOf(fe.Path))
	if err != nil {
		e.fail(fe, fmt.Errorf("%w: %v", ErrSchemaViolation, err))
		return validated{}, false
	}
	if !result.Valid {
		e.fail(fe, fmt.Errorf("%w: %v", ErrSchemaViolation, result.Errors))
		return validated{}, false
	}

	return validated{FileEntry: fe, value: value}, true
}

func (e *Engine) processEntry(ctx context.Context, v validated) (candidate, bool, error) {
	bytes, err := canonical.MarshalJSON(v.value)
	if err != nil {
		return candidate{}, false, err
	}

	computedCID, err := contentAddressOf(bytes)
	if err != nil {
		return candidate{}, false, err
	}

	anchored, found, err := e.oracle.CurrentDataCID(ctx, v.PropertyID, v.GroupID)
	if err != nil {
		return candidate{}, false, err
	}
	if found && anchored == computedCID {
		e.warn(v.FileEntry, ErrAlreadyAnchored.Error())
		return candidate{}, false, nil
	}

	return candidate{FileEntry: v.FileEntry, canonicalBytes: bytes, computedCID: computedCID}, true, nil
}

func (e *Engine) upload(ctx context.Context, candidates []candidate) ([]model.DataItem, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	if e.cfg.DryRun {
		// Metrics stay at zero in dry-run: nothing was actually uploaded.
		// The synthesized items still flow through so the caller can report
		// what would have been uploaded.
		items := make([]model.DataItem, 0, len(candidates))
		for _, c := range candidates {
			items = append(items, model.DataItem{PropertyID: c.PropertyID, GroupID: c.GroupID, DataCID: c.computedCID})
		}
		return items, nil
	}

	byKey := make(map[[2]string]candidate, len(candidates))
	uc := make([]uploader.Candidate, 0, len(candidates))
	for _, c := range candidates {
		byKey[[2]string{c.PropertyID, c.GroupID}] = c
		uc = append(uc, uploader.Candidate{
			PropertyID:     c.PropertyID,
			GroupID:        c.GroupID,
			CanonicalBytes: c.canonicalBytes,
			ComputedCID:    c.computedCID,
		})
	}

	results := e.uploader.UploadBatch(ctx, uc)
	items := make([]model.DataItem, 0, len(results))
	for _, r := range results {
		c := byKey[[2]string{r.PropertyID, r.GroupID}]
		if !r.Success {
			e.fail(c.FileEntry, fmt.Errorf("%w: %v", ErrUploadFailed, r.Err))
			continue
		}
		items = append(items, model.DataItem{PropertyID: r.PropertyID, GroupID: r.GroupID, DataCID: r.CID})
		e.metrics.Uploaded++
	}
	return items, nil
}

func (e *Engine) submit(ctx context.Context, items []model.DataItem) error {
	if len(items) == 0 {
		return nil
	}

	if e.cfg.DryRun {
		batches := e.submitter.GroupIntoBatches(items)
		for i, b := range batches {
			e.log.LogInfo(fmt.Sprintf("dry-run: batch %d would submit %d item(s)", i+1, len(b)))
		}
		return nil
	}

	for outcome := range e.submitter.SubmitAll(ctx, items) {
		if outcome.Err != nil {
			e.log.LogError("batch submission failed", outcome.Err)
			return fmt.Errorf("%w: %v", ErrSubmissionFailed, outcome.Err)
		}
		e.metrics.Submitted += outcome.Receipt.ItemsSubmitted
		e.log.LogInfo(fmt.Sprintf("submitted batch %s (%d item(s))", outcome.Receipt.TxHash, outcome.Receipt.ItemsSubmitted))
	}
	return nil
}

func (e *Engine) fail(fe model.FileEntry, err error) {
	e.metrics.Errors++
	if logErr := e.report.LogError(model.ErrorRow{
		PropertyID: fe.PropertyID,
		GroupID:    fe.GroupID,
		Path:       fe.Path,
		Error:      err.Error(),
		Timestamp:  time.Now().UTC(),
	}); logErr != nil {
		e.log.LogError("writing error row", logErr)
	}
}

func (e *Engine) warn(fe model.FileEntry, reason string) {
	e.metrics.Warnings++
	if err := e.report.LogWarning(model.WarningRow{
		PropertyID: fe.PropertyID,
		GroupID:    fe.GroupID,
		Path:       fe.Path,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		e.log.LogError("writing warning row", err)
	}
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != os.PathSeparator {
		i--
	}
	if i < 0 {
		return "."
	}
	return path[:i]
}
