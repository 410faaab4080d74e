// Package model holds the data types shared across the submission
// pipeline's components. None of these types are serialized directly;
// each is owned exclusively by the component documented on its comment.
package model

import "time"

// FileEntry is a discovered candidate input, produced by the directory
// scanner. PropertyID and GroupID both satisfy the CID syntax predicate;
// Path ends in ".json". Owned by the pipeline engine from discovery
// until its phase-4 slot completes.
type FileEntry struct {
	PropertyID string
	GroupID    string
	Path       string
}

// ProcessedFile is a FileEntry that has passed schema validation and been
// canonicalized. CanonicalBytes and ComputedCID are set together during
// phase 3 and never mutated afterward.
type ProcessedFile struct {
	FileEntry
	CanonicalBytes []byte
	ComputedCID    string
}

// DataItem is the submission payload: the unit the ledger submitter
// batches and sends on-chain.
type DataItem struct {
	PropertyID string
	GroupID    string
	DataCID    string
}

// BatchReceipt is the outcome of one on-ledger submission.
type BatchReceipt struct {
	TxHash         string
	BlockNumber    *uint64
	CostUsed       *uint64
	ItemsSubmitted int
}

// ProgressMetrics are the engine's monotone counters. Only the pipeline
// engine mutates them; the progress renderer and tests only read them.
type ProgressMetrics struct {
	Scanned   int
	Valid     int
	Invalid   int
	Skipped   int
	Uploaded  int
	Errors    int
	Warnings  int
	Submitted int
}

// Snapshot returns a copy safe to hand to a renderer without aliasing
// the engine's live counters.
func (m *ProgressMetrics) Snapshot() ProgressMetrics {
	return *m
}

// ErrorRow is one row of the errors CSV sink.
type ErrorRow struct {
	PropertyID string
	GroupID    string
	Path       string
	Error      string
	Timestamp  time.Time
}

// WarningRow is one row of the warnings CSV sink.
type WarningRow struct {
	PropertyID string
	GroupID    string
	Path       string
	Reason     string
	Timestamp  time.Time
}

// Phase identifies the pipeline's current stage, used for progress
// reporting.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseAssignment Phase = "assignment"
	PhaseValidation Phase = "validation"
	PhaseProcessing Phase = "processing"
	PhaseUpload     Phase = "upload"
	PhaseSubmission Phase = "submission"
	PhaseDone       Phase = "done"
)
