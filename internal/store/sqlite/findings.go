package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqlguardian/auditor/internal/core"
)

func (s *Store) SaveFinding(ctx context.Context, f core.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rejectIfFinalized(ctx, f.RunID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO findings (run_id, instance_id, finding_type, entity_key, row_uuid, status, risk, description, recommendation, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.InstanceID, string(f.FindingType), f.EntityKey, f.RowUUID, string(f.Status), string(f.Risk), f.Description, f.Recommendation, f.Details,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: run %d finding_type %s entity_key %s", core.ErrClassifierBug, f.RunID, f.FindingType, f.EntityKey)
		}
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

func (s *Store) GetFindings(ctx context.Context, runID int64, findingType core.FindingType) ([]core.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT run_id, instance_id, finding_type, entity_key, row_uuid, status, risk, description, recommendation, details
	          FROM findings WHERE run_id = ?`
	args := []any{runID}
	if findingType != "" {
		query += ` AND finding_type = ?`
		args = append(args, string(findingType))
	}
	query += ` ORDER BY instance_id, finding_type, entity_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var findings []core.Finding
	for rows.Next() {
		var f core.Finding
		var findingTypeStr, status, risk string
		if err := rows.Scan(&f.RunID, &f.InstanceID, &findingTypeStr, &f.EntityKey, &f.RowUUID, &status, &risk, &f.Description, &f.Recommendation, &f.Details); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.FindingType = core.FindingType(findingTypeStr)
		f.Status = core.Status(status)
		f.Risk = core.Risk(risk)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// isUniqueConstraintError reports whether err is a primary-key / unique
// constraint violation. modernc.org/sqlite does not export a typed
// constraint-violation error, so this matches on SQLite's own message text.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
