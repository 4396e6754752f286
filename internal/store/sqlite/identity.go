package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
)

// LookupByUUID and LookupByCompositeKey implement identity.PersistedIndex,
// the read seam the identity resolver uses.
func (s *Store) LookupByUUID(ctx context.Context, rowUUID string) (identity.KeyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT row_uuid, organization, last_seen FROM identity_index WHERE row_uuid = ?`, rowUUID))
}

func (s *Store) LookupByCompositeKey(ctx context.Context, entityType core.FindingType, compositeKey string) (identity.KeyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT row_uuid, organization, last_seen FROM identity_index WHERE entity_type = ? AND composite_key = ?`,
		string(entityType), compositeKey))
}

// RecordIdentity persists (or refreshes last_seen for) a resolved
// row_uuid/composite_key pair. The orchestrator calls this once per entity
// after identity.Resolve so a future resurrection-window lookup succeeds.
func (s *Store) RecordIdentity(ctx context.Context, rowUUID string, entityType core.FindingType, compositeKey, organization string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_index (row_uuid, entity_type, composite_key, organization, last_seen)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(row_uuid) DO UPDATE SET
		   entity_type = excluded.entity_type,
		   composite_key = excluded.composite_key,
		   organization = excluded.organization,
		   last_seen = excluded.last_seen`,
		rowUUID, string(entityType), compositeKey, organization, seenAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record identity: %w", err)
	}
	return nil
}

func scanIdentity(row rowScanner) (identity.KeyRecord, bool, error) {
	var rec identity.KeyRecord
	var lastSeen int64
	err := row.Scan(&rec.RowUUID, &rec.Organization, &lastSeen)
	if err == sql.ErrNoRows {
		return identity.KeyRecord{}, false, nil
	}
	if err != nil {
		return identity.KeyRecord{}, false, fmt.Errorf("scan identity record: %w", err)
	}
	rec.LastSeen = time.Unix(lastSeen, 0).UTC()
	return rec, true, nil
}
