package core

import "errors"

// Typed sentinel errors the core produces and propagates. CLI exit codes
// are mapped from these in cmd/auditor; the core itself never knows about
// exit codes.
var (
	// ErrConfigInvalid: configuration cannot be parsed or references a
	// missing credential. Exit code 2.
	ErrConfigInvalid = errors.New("configuration invalid")

	// ErrStoreLocked: the durable store's advisory file lock is held by
	// another process. Exit code 1.
	ErrStoreLocked = errors.New("durable store is locked by another process")

	// ErrStoreCorrupt: the durable store file failed integrity checks.
	// Exit code 1.
	ErrStoreCorrupt = errors.New("durable store is corrupt")

	// ErrWorkbookLocked: the report workbook is open elsewhere. Surfaced
	// before any mutation. Exit code 4.
	ErrWorkbookLocked = errors.New("workbook is locked by another process")

	// ErrTargetUnreachable: a single collection target could not be
	// reached. Non-fatal; the orchestrator demotes this to a warning and
	// records the instance as not scanned.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrClassifierBug: a collector emitted two findings with the same
	// (run_id, finding_type, entity_key). Fatal to the sync.
	ErrClassifierBug = errors.New("duplicate finding emitted for the same run")

	// ErrFinalized: an attempt was made to mutate a finalized run.
	ErrFinalized = errors.New("run is finalized and cannot be mutated")

	// ErrRunAlreadyRunning: BeginRun was called for an audit_date x
	// organization pair that already has a running run.
	ErrRunAlreadyRunning = errors.New("a run is already in progress for this organization and audit date")

	// ErrFinalizeRefused: Finalize(force=false) was called while active
	// issues without a documented exception remain. Exit code 5.
	ErrFinalizeRefused = errors.New("finalize refused: active issues without documented exception remain")

	// ErrInvalidTransition: the lifecycle controller was asked to make a
	// transition the state machine does not permit.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrNotFound is returned by store lookups that find nothing.
	ErrNotFound = errors.New("not found")
)

// DateParseWarning describes a non-fatal date parse failure in a workbook
// column. No package in this module constructs it: annotation sync reports
// unparseable dates as annotationsync.DateWarning values instead.
type DateParseWarning struct {
	Column       string
	OriginalText string
	Cause        error
}

func (w *DateParseWarning) Error() string {
	return "could not parse date in column " + w.Column + ": " + w.Cause.Error()
}

func (w *DateParseWarning) Unwrap() error { return w.Cause }
