package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlguardian/auditor/internal/core"
)

// AppendAction implements the store side of the dedup rule: under the
// store's write lock it looks for an existing row with the same
// (initial_run_id, entity_key, change_type, sync_run_id), comparing
// sync_run_id with IS so a NULL matches a NULL. A match means "already
// appended" and is reported as (false, nil), never as an error. The
// idx_action_log_dedup index on those columns is not unique.
func (s *Store) AppendAction(ctx context.Context, e core.ActionLogEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dup int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_log WHERE initial_run_id = ? AND entity_key = ? AND change_type = ? AND sync_run_id IS ?`,
		e.InitialRunID, e.EntityKey, string(e.ChangeType), nullableInt64(e.SyncRunID),
	).Scan(&dup)
	if err != nil {
		return false, fmt.Errorf("check action dedup: %w", err)
	}
	if dup > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_log (initial_run_id, sync_run_id, entity_key, finding_type, change_type, status, action_date, user_date_override, description, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.InitialRunID, nullableInt64(e.SyncRunID), e.EntityKey, string(e.FindingType), string(e.ChangeType), string(e.Status),
		e.ActionDate.UTC().Unix(), nullableUnix(e.UserDateOverride), e.Description, e.Notes,
	)
	if err != nil {
		return false, fmt.Errorf("insert action log entry: %w", err)
	}
	return true, nil
}

func (s *Store) ListActions(ctx context.Context, initialRunID int64) ([]core.ActionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, initial_run_id, sync_run_id, entity_key, finding_type, change_type, status, action_date, user_date_override, description, notes
		 FROM action_log WHERE initial_run_id = ? ORDER BY id`, initialRunID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []core.ActionLogEntry
	for rows.Next() {
		e, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateActionNotes applies an operator edit without ever touching
// action_date.
func (s *Store) UpdateActionNotes(ctx context.Context, id int64, notes string, dateOverride *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE action_log SET notes = ?, user_date_override = ? WHERE id = ?`,
		notes, nullableUnix(dateOverride), id,
	)
	if err != nil {
		return fmt.Errorf("update action notes: %w", err)
	}
	return nil
}

func scanAction(row rowScanner) (core.ActionLogEntry, error) {
	var e core.ActionLogEntry
	var findingType, changeType, status string
	var actionDate int64
	var syncRunID sql.NullInt64
	var userDateOverride sql.NullInt64
	err := row.Scan(&e.ID, &e.InitialRunID, &syncRunID, &e.EntityKey, &findingType, &changeType, &status, &actionDate, &userDateOverride, &e.Description, &e.Notes)
	if err != nil {
		return core.ActionLogEntry{}, fmt.Errorf("scan action: %w", err)
	}
	e.FindingType = core.FindingType(findingType)
	e.ChangeType = core.ChangeType(changeType)
	e.Status = core.ActionStatus(status)
	e.ActionDate = time.Unix(actionDate, 0).UTC()
	if syncRunID.Valid {
		id := syncRunID.Int64
		e.SyncRunID = &id
	}
	if userDateOverride.Valid {
		t := time.Unix(userDateOverride.Int64, 0).UTC()
		e.UserDateOverride = &t
	}
	return e, nil
}
