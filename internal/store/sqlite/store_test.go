package sqlite_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	ctx := context.Background()
	dbPath := t.TempDir() + "/test.db"
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := sqlite.Open(ctx, dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBeginRun_RejectsConcurrentRunningRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	auditDate := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	_, err := st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-hash-1")
	require.NoError(t, err)

	_, err = st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-hash-1")
	assert.ErrorIs(t, err, core.ErrRunAlreadyRunning)
}

func TestCompleteRun_ThenFinalize_BlocksFurtherMutation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	auditDate := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	runID, err := st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-hash-1")
	require.NoError(t, err)

	require.NoError(t, st.CompleteRun(ctx, runID, core.RunStatusCompleted))
	require.NoError(t, st.FinalizeRun(ctx, runID))

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFinalized, run.Status)

	err = st.CompleteRun(ctx, runID, core.RunStatusCompleted)
	assert.ErrorIs(t, err, core.ErrFinalized)
}

func TestResolveServerInstance_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	port := 1433
	serverID1, instanceID1, err := st.ResolveServerInstance(ctx, "sql01.corp.local", "DEFAULT", &port)
	require.NoError(t, err)

	serverID2, instanceID2, err := st.ResolveServerInstance(ctx, "sql01.corp.local", "DEFAULT", &port)
	require.NoError(t, err)

	assert.Equal(t, serverID1, serverID2)
	assert.Equal(t, instanceID1, instanceID2)
}

func TestSaveFinding_DuplicateKeyIsClassifierBug(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	auditDate := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	runID, err := st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-hash-1")
	require.NoError(t, err)

	_, instanceID, err := st.ResolveServerInstance(ctx, "sql01.corp.local", "DEFAULT", nil)
	require.NoError(t, err)

	f := core.Finding{
		RunID:       runID,
		InstanceID:  instanceID,
		FindingType: core.FindingSAAccount,
		EntityKey:   "sa_account|sql01|default",
		Status:      core.StatusFail,
		Risk:        core.RiskCritical,
		Description: "sa enabled",
	}
	require.NoError(t, st.SaveFinding(ctx, f))

	err = st.SaveFinding(ctx, f)
	assert.ErrorIs(t, err, core.ErrClassifierBug)
}

func TestAppendAction_DedupesWithinSameKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	auditDate := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	baselineID, err := st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-hash-1")
	require.NoError(t, err)

	entry := core.ActionLogEntry{
		InitialRunID: baselineID,
		SyncRunID:    &baselineID,
		EntityKey:    "sa_account|sql01|default",
		FindingType:  core.FindingSAAccount,
		ChangeType:   core.ChangeNewIssue,
		Status:       core.ActionOpen,
		ActionDate:   time.Now(),
		Description:  "sa account enabled",
	}
	inserted, err := st.AppendAction(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.AppendAction(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate dedup key must not be inserted twice")

	actions, err := st.ListActions(ctx, baselineID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestUpsertAnnotation_PreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := core.Annotation{
		EntityType:    core.FindingSAAccount,
		EntityKey:     "sa_account|sql01|default",
		Justification: "break-glass account, reviewed quarterly",
		ReviewStatus:  core.ReviewStatusException,
	}
	first, err := st.UpsertAnnotation(ctx, a)
	require.NoError(t, err)

	a.Notes = "updated note"
	second, err := st.UpsertAnnotation(ctx, a)
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.True(t, second.ModifiedAt.Unix() >= first.ModifiedAt.Unix())
	assert.Equal(t, "updated note", second.Notes)
}

func TestUpsertAnnotation_RenamedEntityKeepsSingleRowUnderSameUUID(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := core.Annotation{
		RowUUID:       "11111111-1111-1111-1111-111111111111",
		EntityType:    core.FindingLogin,
		EntityKey:     "login|sql01|default|app_reader",
		Justification: "approved per CAB-482",
	}
	first, err := st.UpsertAnnotation(ctx, a)
	require.NoError(t, err)

	a.EntityKey = "login|sql01|default|app_reader_v2"
	second, err := st.UpsertAnnotation(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.Equal(t, "approved per CAB-482", second.Justification)

	all, err := st.ListAnnotations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "a renamed entity must update its annotation in place, not fork a second row")
	assert.Equal(t, "login|sql01|default|app_reader_v2", all[0].EntityKey)

	byUUID, err := st.GetAnnotation(ctx, a.RowUUID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "login|sql01|default|app_reader_v2", byUUID.EntityKey)
}
