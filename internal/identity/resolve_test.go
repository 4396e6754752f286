package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
)

type fakeIndex struct {
	byUUID map[string]identity.KeyRecord
	byKey  map[string]identity.KeyRecord
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{byUUID: map[string]identity.KeyRecord{}, byKey: map[string]identity.KeyRecord{}}
}

func (f *fakeIndex) LookupByUUID(ctx context.Context, rowUUID string) (identity.KeyRecord, bool, error) {
	rec, ok := f.byUUID[rowUUID]
	return rec, ok, nil
}

func (f *fakeIndex) LookupByCompositeKey(ctx context.Context, entityType core.FindingType, compositeKey string) (identity.KeyRecord, bool, error) {
	rec, ok := f.byKey[compositeKey]
	return rec, ok, nil
}

func TestResolve_UnknownKeyMintsFreshUUID(t *testing.T) {
	idx := newFakeIndex()
	r, err := identity.NewResolver(idx, 16)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "acme", "", core.FindingLogin, "login|sql01|appuser")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestResolve_KnownUUIDWins(t *testing.T) {
	idx := newFakeIndex()
	idx.byUUID["row-123"] = identity.KeyRecord{RowUUID: "row-123", Organization: "acme", LastSeen: time.Now()}
	r, err := identity.NewResolver(idx, 16)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "acme", "row-123", core.FindingLogin, "login|sql01|appuser")
	require.NoError(t, err)
	assert.Equal(t, "row-123", got)
}

func TestResolve_CompositeKeyWithinWindowReused(t *testing.T) {
	idx := newFakeIndex()
	key := identity.NormalizeKey("login|sql01|appuser")
	idx.byKey[key] = identity.KeyRecord{RowUUID: "stable-uuid", Organization: "acme", LastSeen: time.Now().Add(-24 * time.Hour)}
	r, err := identity.NewResolver(idx, 16)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "acme", "", core.FindingLogin, "login|sql01|appuser")
	require.NoError(t, err)
	assert.Equal(t, "stable-uuid", got)
}

func TestResolve_CompositeKeyOutsideWindowMintsFresh(t *testing.T) {
	idx := newFakeIndex()
	key := identity.NormalizeKey("login|sql01|appuser")
	idx.byKey[key] = identity.KeyRecord{RowUUID: "stale-uuid", Organization: "acme", LastSeen: time.Now().Add(-400 * 24 * time.Hour)}
	r, err := identity.NewResolver(idx, 16)
	require.NoError(t, err)
	r.WithResurrectionWindow(180 * 24 * time.Hour)

	got, err := r.Resolve(context.Background(), "acme", "", core.FindingLogin, "login|sql01|appuser")
	require.NoError(t, err)
	assert.NotEqual(t, "stale-uuid", got)
}

func TestResolve_DifferentOrganizationMintsFresh(t *testing.T) {
	idx := newFakeIndex()
	key := identity.NormalizeKey("login|sql01|appuser")
	idx.byKey[key] = identity.KeyRecord{RowUUID: "other-org-uuid", Organization: "other-org", LastSeen: time.Now()}
	r, err := identity.NewResolver(idx, 16)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "acme", "", core.FindingLogin, "login|sql01|appuser")
	require.NoError(t, err)
	assert.NotEqual(t, "other-org-uuid", got)
}
