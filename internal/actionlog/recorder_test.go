package actionlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlguardian/auditor/internal/actionlog"
	"github.com/sqlguardian/auditor/internal/core"
)

type fakeAppender struct {
	entries []core.ActionLogEntry
	inserts int
}

func (f *fakeAppender) AppendAction(ctx context.Context, e core.ActionLogEntry) (bool, error) {
	f.inserts++
	f.entries = append(f.entries, e)
	return true, nil
}

func TestRecorder_AppendsEachDistinctEntryOnce(t *testing.T) {
	store := &fakeAppender{}
	r := actionlog.NewRecorder(store)

	e1 := core.ActionLogEntry{InitialRunID: 1, EntityKey: "k1", ChangeType: core.ChangeNewIssue}
	e2 := core.ActionLogEntry{InitialRunID: 1, EntityKey: "k2", ChangeType: core.ChangeNewIssue}

	ok, err := r.Append(context.Background(), e1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Append(context.Background(), e2)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, store.inserts)
}

func TestRecorder_DedupsWithinSamePass(t *testing.T) {
	store := &fakeAppender{}
	r := actionlog.NewRecorder(store)

	e := core.ActionLogEntry{InitialRunID: 1, EntityKey: "k1", ChangeType: core.ChangeNewIssue}

	ok, err := r.Append(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Append(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, store.inserts)
}

func TestRecorder_DistinguishesBySyncRunID(t *testing.T) {
	store := &fakeAppender{}
	r := actionlog.NewRecorder(store)

	sync1 := int64(10)
	sync2 := int64(11)
	e1 := core.ActionLogEntry{InitialRunID: 1, EntityKey: "k1", ChangeType: core.ChangeStillFailing, SyncRunID: &sync1}
	e2 := core.ActionLogEntry{InitialRunID: 1, EntityKey: "k1", ChangeType: core.ChangeStillFailing, SyncRunID: &sync2}

	ok1, err := r.Append(context.Background(), e1)
	require.NoError(t, err)
	ok2, err := r.Append(context.Background(), e2)
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, 2, store.inserts)
}

func TestRecorder_StampsActionDateWhenZero(t *testing.T) {
	store := &fakeAppender{}
	r := actionlog.NewRecorder(store)

	_, err := r.Append(context.Background(), core.ActionLogEntry{InitialRunID: 1, EntityKey: "k1", ChangeType: core.ChangeNewIssue})
	require.NoError(t, err)
	require.Len(t, store.entries, 1)
	assert.False(t, store.entries[0].ActionDate.IsZero())
}
