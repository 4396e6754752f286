package orchestrator_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sqlguardian/auditor/internal/classifier"
	"github.com/sqlguardian/auditor/internal/collectors"
	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
	"github.com/sqlguardian/auditor/internal/orchestrator"
	"github.com/sqlguardian/auditor/internal/store/sqlite"
)

// stubCollector returns a fixed set of findings for every target, or an
// error for targets named in unreachable.
type stubCollector struct {
	findings    map[string][]core.CollectedFinding
	unreachable map[string]bool
}

func (c *stubCollector) Collect(ctx context.Context, target core.Target) ([]core.CollectedFinding, error) {
	if c.unreachable[target.ID] {
		return nil, core.ErrTargetUnreachable
	}
	return c.findings[target.ID], nil
}

func newTestOrchestrator(t *testing.T, collector core.SQLCollector) (*orchestrator.Orchestrator, *sqlite.Store) {
	ctx := context.Background()
	dbPath := t.TempDir() + "/test.db"
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := sqlite.Open(ctx, dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	resolver, err := identity.NewResolver(st, 1024)
	require.NoError(t, err)

	o := orchestrator.New(st, resolver, classifier.RuleConfig{}, collector, collectors.DefaultConfig(), logger)
	return o, st
}

func saAccountTarget(id string) core.Target {
	return core.Target{ID: id, Server: "sql01.corp.local", Instance: "DEFAULT", Enabled: true}
}

func saAccountFinding(enabled bool) core.CollectedFinding {
	return core.CollectedFinding{
		FindingType: core.FindingSAAccount,
		KeyParts:    []string{"sql01", "DEFAULT"},
		Facts:       map[string]any{"is_enabled": enabled},
	}
}

// TestRunSync_NewIssueThenFixed covers the "baseline finds an active issue,
// next sync shows it resolved" path end to end through collection,
// classification, the action log and the recomputed stats.
func TestRunSync_NewIssueThenFixed(t *testing.T) {
	ctx := context.Background()
	target := saAccountTarget("t1")

	collector := &stubCollector{findings: map[string][]core.CollectedFinding{
		"t1": {saAccountFinding(true)},
	}}
	o, st := newTestOrchestrator(t, collector)

	reportPath := filepath.Join(t.TempDir(), "report.xlsx")
	auditDate := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	baselineID, err := st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-1")
	require.NoError(t, err)

	params := orchestrator.SyncParams{
		Organization:  "acme",
		AuditDate:     auditDate,
		ConfigHash:    "cfg-1",
		BaselineRunID: baselineID,
		ReportPath:    reportPath,
		Targets:       []core.Target{target},
	}
	// BeginRun refuses a second running run for the same org+date, so the
	// baseline itself must be completed the same way a real baseline pass
	// would complete it before any sync is attempted.
	require.NoError(t, st.CompleteRun(ctx, baselineID, core.RunStatusCompleted))

	outcome1, err := o.RunSync(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome1.Stats.ActiveIssues)
	assert.Equal(t, 1, outcome1.Stats.NewIssuesSinceBaseline)
	assert.True(t, outcome1.ReportRegenerated)

	actions, err := st.ListActions(ctx, baselineID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, core.ChangeNewIssue, actions[0].ChangeType)

	// Second sync: sa account now disabled (PASS). Expect FIXED.
	collector.findings["t1"] = []core.CollectedFinding{saAccountFinding(false)}
	params.PreviousRunID = &outcome1.RunID

	outcome2, err := o.RunSync(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome2.Stats.ActiveIssues)
	assert.Equal(t, 1, outcome2.Stats.FixedSinceBaseline)
	assert.Equal(t, 1, outcome2.Stats.FixedSinceLast)

	actions, err = st.ListActions(ctx, baselineID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, core.ChangeFixed, actions[1].ChangeType)
}

// TestRunSync_DocumentedExceptionThenIdempotentResync covers the case where
// an operator-documented exception is recorded once, and a second sync with
// no new information is a no-op against the action log.
func TestRunSync_DocumentedExceptionThenIdempotentResync(t *testing.T) {
	ctx := context.Background()
	target := saAccountTarget("t1")

	collector := &stubCollector{findings: map[string][]core.CollectedFinding{
		"t1": {saAccountFinding(true)},
	}}
	o, st := newTestOrchestrator(t, collector)

	reportPath := filepath.Join(t.TempDir(), "report.xlsx")
	auditDate := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	baselineID, err := st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-1")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, baselineID, core.RunStatusCompleted))

	params := orchestrator.SyncParams{
		Organization:  "acme",
		AuditDate:     auditDate,
		ConfigHash:    "cfg-1",
		BaselineRunID: baselineID,
		ReportPath:    reportPath,
		Targets:       []core.Target{target},
	}

	outcome1, err := o.RunSync(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, outcome1.Stats.ActiveIssues)

	findings, err := st.GetFindings(ctx, outcome1.RunID, core.FindingSAAccount)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	// Simulate an operator editing the regenerated workbook directly: set
	// Review Status (column G) and Justification (column H) on the sole
	// data row (row 2) of the "SA Account" sheet.
	wb, err := excelize.OpenFile(reportPath)
	require.NoError(t, err)
	require.NoError(t, wb.SetCellValue("SA Account", "G2", "Exception"))
	require.NoError(t, wb.SetCellValue("SA Account", "H2", "break-glass account, reviewed quarterly"))
	require.NoError(t, wb.SaveAs(reportPath))
	require.NoError(t, wb.Close())

	params.PreviousRunID = &outcome1.RunID
	outcome2, err := o.RunSync(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome2.Stats.DocumentedExceptions)
	assert.Equal(t, 0, outcome2.Stats.ActiveIssues)

	actions, err := st.ListActions(ctx, baselineID)
	require.NoError(t, err)
	require.Len(t, actions, 2, "first sync logs NEW_ISSUE, second logs EXCEPTION_ADDED")
	assert.Equal(t, core.ChangeExceptionAdded, actions[1].ChangeType)

	// Third sync with identical annotation and finding: must be a no-op.
	secondPrev := outcome2.RunID
	params.PreviousRunID = &secondPrev
	outcome3, err := o.RunSync(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome3.Stats.DocumentedExceptions)

	actions, err = st.ListActions(ctx, baselineID)
	require.NoError(t, err)
	assert.Len(t, actions, 2, "double sync must not append a duplicate action")
}

// TestRunSync_UnreachableTargetPreservesPriorFindings covers the case where
// a target that cannot be reached this sync leaves its previously collected
// findings untouched rather than appearing to have "fixed" everything.
func TestRunSync_UnreachableTargetPreservesPriorFindings(t *testing.T) {
	ctx := context.Background()
	target := saAccountTarget("t1")

	collector := &stubCollector{
		findings:    map[string][]core.CollectedFinding{"t1": {saAccountFinding(true)}},
		unreachable: map[string]bool{},
	}
	o, st := newTestOrchestrator(t, collector)

	reportPath := filepath.Join(t.TempDir(), "report.xlsx")
	auditDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	baselineID, err := st.BeginRun(ctx, "acme", auditDate, core.RunTypeBaseline, nil, "cfg-1")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, baselineID, core.RunStatusCompleted))

	params := orchestrator.SyncParams{
		Organization:  "acme",
		AuditDate:     auditDate,
		ConfigHash:    "cfg-1",
		BaselineRunID: baselineID,
		ReportPath:    reportPath,
		Targets:       []core.Target{target},
	}

	outcome1, err := o.RunSync(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, outcome1.Stats.ActiveIssues)

	collector.unreachable["t1"] = true
	params.PreviousRunID = &outcome1.RunID

	outcome2, err := o.RunSync(ctx, params)
	require.NoError(t, err)
	require.Len(t, outcome2.UnreachableTargets, 1)
	assert.Equal(t, "t1", outcome2.UnreachableTargets[0].ID)

	actions, err := st.ListActions(ctx, baselineID)
	require.NoError(t, err)
	assert.Len(t, actions, 1, "an unreachable target must not generate a FIXED or REGRESSION entry")
}
