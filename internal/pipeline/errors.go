package pipeline

import "errors"

// Tagged error kinds the engine branches on. Per-entry errors wrap one
// of these with fmt.Errorf("...: %w", ...) so callers can errors.Is
// against the kind without parsing message text.
var (
	// ErrInputStructure is fatal at phase 1: the root directory is
	// missing, not a directory, or contains no valid property
	// subdirectory.
	ErrInputStructure = errors.New("input structure is invalid")

	// ErrFileRead and ErrJSONParse are per-entry; the entry is excluded
	// and an error row is emitted.
	ErrFileRead  = errors.New("file read failed")
	ErrJSONParse = errors.New("json parse failed")

	// ErrSchemaUnavailable is per-entry: the schema fetch failed.
	ErrSchemaUnavailable = errors.New("schema unavailable")

	// ErrSchemaViolation is per-entry: the validator rejected the
	// document.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrAlreadyAnchored is per-entry (warning, not error): the computed
	// CID already matches the ledger-anchored CID.
	ErrAlreadyAnchored = errors.New("already anchored")

	// ErrNotAssigned is per-entry (warning): the group is not in the
	// active identity's assignment set.
	ErrNotAssigned = errors.New("not assigned")

	// ErrUploadFailed is per-entry: the pinning service rejected or
	// timed out after retries.
	ErrUploadFailed = errors.New("upload failed")

	// ErrSubmissionFailed is fatal to the current batch loop: a batch
	// exhausted its retry budget.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrNonceDesync names the recoverable nonce-class failure. The
	// ledger submitter recognizes such failures from their error text
	// and re-synchronizes its nonce internally, so nothing returns this
	// value.
	ErrNonceDesync = errors.New("nonce desynchronized")

	// ErrUnhandled covers anything else; the run still finalizes its
	// CSV sinks and exits non-zero.
	ErrUnhandled = errors.New("unhandled error")
)
