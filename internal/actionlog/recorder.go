// Package actionlog is the append-only history writer. It owns the
// deduplication rule and nothing else -- persistence itself is the
// store's job.
package actionlog

import (
	"context"
	"time"

	"github.com/sqlguardian/auditor/internal/core"
)

// Appender is the store seam a Recorder writes through.
type Appender interface {
	AppendAction(ctx context.Context, e core.ActionLogEntry) (bool, error)
}

// Recorder wraps an Appender with run-scoped dedup bookkeeping: within
// one sync, the same (initial_run_id, entity_key,
// change_type, sync_run_id) must never be appended twice, even if the
// caller presents it more than once in the same pass.
type Recorder struct {
	store Appender
	now   func() time.Time
	seen  map[dedupKey]bool
}

type dedupKey struct {
	initialRunID int64
	entityKey    string
	changeType   core.ChangeType
	syncRunID    int64
	hasSyncRun   bool
}

// NewRecorder builds a Recorder for a single sync pass.
func NewRecorder(store Appender) *Recorder {
	return &Recorder{store: store, now: time.Now, seen: make(map[dedupKey]bool)}
}

// Append inserts a classified transition. On first occurrence it stamps ActionDate with
// now(); callers reconciling an operator-edited workbook row must instead
// go through UpdateActionNotes against the existing row so ActionDate is
// never overwritten. Returns false without an error when the entry was a
// duplicate within this recorder's pass or was already present in the
// store.
func (r *Recorder) Append(ctx context.Context, e core.ActionLogEntry) (bool, error) {
	key := dedupKey{
		initialRunID: e.InitialRunID,
		entityKey:    e.EntityKey,
		changeType:   e.ChangeType,
		hasSyncRun:   e.SyncRunID != nil,
	}
	if e.SyncRunID != nil {
		key.syncRunID = *e.SyncRunID
	}
	if r.seen[key] {
		return false, nil
	}

	if e.ActionDate.IsZero() {
		e.ActionDate = r.now()
	}

	inserted, err := r.store.AppendAction(ctx, e)
	if err != nil {
		return false, err
	}
	if inserted {
		r.seen[key] = true
	}
	return inserted, nil
}
