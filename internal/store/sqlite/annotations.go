package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlguardian/auditor/internal/core"
)

// UpsertAnnotation implements the match-by-UUID-then-composite-key rule:
// CreatedAt is preserved across updates, ModifiedAt always advances.
//
// A row_uuid match takes a different write path than a composite-key match.
// An entity can be renamed -- same row_uuid, a changed entity_key -- and
// row_uuid must stay unique across annotations. Upserting
// that case with INSERT ... ON CONFLICT(entity_type, entity_key) would not
// hit the existing row (its entity_key no longer matches) and would insert
// a second annotation sharing the UUID, so a row_uuid match is always
// written with UPDATE ... WHERE row_uuid, never by composite key.
func (s *Store) UpsertAnnotation(ctx context.Context, a core.Annotation) (core.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if a.RowUUID != "" {
		existing, err := s.lookupByUUID(ctx, a.RowUUID)
		if err != nil && err != core.ErrNotFound {
			return core.Annotation{}, err
		}
		if err == nil {
			a.CreatedAt = existing.CreatedAt
			a.ModifiedAt = now
			_, err := s.db.ExecContext(ctx,
				`UPDATE annotations SET
				   entity_type = ?, entity_key = ?, notes = ?, purpose = ?, justification = ?,
				   review_status = ?, last_reviewed = ?, modified_at = ?, modified_by = ?
				 WHERE row_uuid = ?`,
				string(a.EntityType), a.EntityKey, a.Notes, a.Purpose, a.Justification, string(a.ReviewStatus),
				nullableUnix(a.LastReviewed), a.ModifiedAt.Unix(), a.ModifiedBy, a.RowUUID,
			)
			if err != nil {
				return core.Annotation{}, fmt.Errorf("update annotation by row_uuid: %w", err)
			}
			return a, nil
		}
	}

	existing, err := s.lookupByKey(ctx, a.EntityType, a.EntityKey)
	if err == nil {
		a.CreatedAt = existing.CreatedAt
	} else if err == core.ErrNotFound {
		a.CreatedAt = now
	} else {
		return core.Annotation{}, err
	}
	a.ModifiedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO annotations (row_uuid, entity_type, entity_key, notes, purpose, justification, review_status, last_reviewed, created_at, modified_at, modified_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_type, entity_key) DO UPDATE SET
		   row_uuid = excluded.row_uuid,
		   notes = excluded.notes,
		   purpose = excluded.purpose,
		   justification = excluded.justification,
		   review_status = excluded.review_status,
		   last_reviewed = excluded.last_reviewed,
		   modified_at = excluded.modified_at,
		   modified_by = excluded.modified_by`,
		a.RowUUID, string(a.EntityType), a.EntityKey, a.Notes, a.Purpose, a.Justification, string(a.ReviewStatus),
		nullableUnix(a.LastReviewed), a.CreatedAt.Unix(), a.ModifiedAt.Unix(), a.ModifiedBy,
	)
	if err != nil {
		return core.Annotation{}, fmt.Errorf("upsert annotation: %w", err)
	}
	return a, nil
}

func (s *Store) GetAnnotation(ctx context.Context, rowUUID string, entityType core.FindingType, entityKey string) (core.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupAnnotation(ctx, rowUUID, entityType, entityKey)
}

const annotationCols = `SELECT row_uuid, entity_type, entity_key, notes, purpose, justification, review_status, last_reviewed, created_at, modified_at, modified_by FROM annotations`

func (s *Store) lookupAnnotation(ctx context.Context, rowUUID string, entityType core.FindingType, entityKey string) (core.Annotation, error) {
	if rowUUID != "" {
		if a, err := s.lookupByUUID(ctx, rowUUID); err == nil {
			return a, nil
		} else if err != core.ErrNotFound {
			return core.Annotation{}, err
		}
	}
	return s.lookupByKey(ctx, entityType, entityKey)
}

func (s *Store) lookupByUUID(ctx context.Context, rowUUID string) (core.Annotation, error) {
	row := s.db.QueryRowContext(ctx, annotationCols+` WHERE row_uuid = ?`, rowUUID)
	return scanAnnotation(row)
}

func (s *Store) lookupByKey(ctx context.Context, entityType core.FindingType, entityKey string) (core.Annotation, error) {
	row := s.db.QueryRowContext(ctx, annotationCols+` WHERE entity_type = ? AND entity_key = ?`, string(entityType), entityKey)
	return scanAnnotation(row)
}

func (s *Store) ListAnnotations(ctx context.Context) ([]core.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_uuid, entity_type, entity_key, notes, purpose, justification, review_status, last_reviewed, created_at, modified_at, modified_by FROM annotations`)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var out []core.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnnotation(row rowScanner) (core.Annotation, error) {
	var a core.Annotation
	var entityType, reviewStatus string
	var lastReviewed sql.NullInt64
	var createdAt, modifiedAt int64
	err := row.Scan(&a.RowUUID, &entityType, &a.EntityKey, &a.Notes, &a.Purpose, &a.Justification, &reviewStatus, &lastReviewed, &createdAt, &modifiedAt, &a.ModifiedBy)
	if err == sql.ErrNoRows {
		return core.Annotation{}, core.ErrNotFound
	}
	if err != nil {
		return core.Annotation{}, fmt.Errorf("scan annotation: %w", err)
	}
	a.EntityType = core.FindingType(entityType)
	a.ReviewStatus = core.ReviewStatus(reviewStatus)
	if lastReviewed.Valid {
		t := time.Unix(lastReviewed.Int64, 0).UTC()
		a.LastReviewed = &t
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.ModifiedAt = time.Unix(modifiedAt, 0).UTC()
	return a, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
