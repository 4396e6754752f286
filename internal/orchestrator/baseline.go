package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/stats"
	"github.com/sqlguardian/auditor/internal/store"
)

// BaselineParams is what the first audit run in a compliance cycle needs.
// A baseline has no prior run to diff against, so there is no read-
// annotations step (that presupposes a workbook from a previous cycle)
// and no diff/classify step -- every collected FAIL/WARN is simply
// a fresh finding, the same as diff.Diff's "no prior key" case would
// produce if run against an empty prior set.
type BaselineParams struct {
	Organization string
	AuditDate    time.Time
	ConfigHash   string
	ReportPath   string
	Targets      []core.Target
}

// BaselineOutcome summarizes one RunBaseline call for the CLI layer.
type BaselineOutcome struct {
	RunID              int64
	Stats              stats.Stats
	ReportRegenerated  bool
	UnreachableTargets []core.Target
}

// RunBaseline implements the "none -> baseline" transition's body: open
// a run, collect and classify every target, compute stats against
// itself (there is nothing to diff yet, so every count is either
// compliant or active), and render the first report.
func (o *Orchestrator) RunBaseline(ctx context.Context, p BaselineParams) (BaselineOutcome, error) {
	wbLock := store.NewWorkbookLock(p.ReportPath + ".lock")
	if err := wbLock.TryLock(); err != nil {
		return BaselineOutcome{}, err
	}
	defer wbLock.Unlock()

	runID, err := o.Store.BeginRun(ctx, p.Organization, p.AuditDate, core.RunTypeBaseline, nil, p.ConfigHash)
	if err != nil {
		return BaselineOutcome{}, fmt.Errorf("begin baseline run: %w", err)
	}
	outcome := BaselineOutcome{RunID: runID}

	collectParams := SyncParams{
		Organization: p.Organization,
		AuditDate:    p.AuditDate,
		ConfigHash:   p.ConfigHash,
		Targets:      p.Targets,
	}
	unreachable, err := o.collectAndClassify(ctx, collectParams, runID)
	if err != nil {
		_ = o.Store.CompleteRun(ctx, runID, core.RunStatusFailed)
		return outcome, fmt.Errorf("collect and classify: %w", err)
	}
	outcome.UnreachableTargets = unreachable

	if err := o.Store.CompleteRun(ctx, runID, core.RunStatusCompleted); err != nil {
		return outcome, fmt.Errorf("complete run: %w", err)
	}

	s, err := stats.Calculate(ctx, o.Store, runID, runID, nil)
	if err != nil {
		return outcome, fmt.Errorf("calculate stats: %w", err)
	}
	outcome.Stats = s

	reportParams := SyncParams{
		Organization:  p.Organization,
		AuditDate:     p.AuditDate,
		ConfigHash:    p.ConfigHash,
		BaselineRunID: runID,
		ReportPath:    p.ReportPath,
		Targets:       p.Targets,
	}
	if err := o.regenerateWorkbook(ctx, reportParams, runID, s); err != nil {
		o.Logger.Warn("workbook regeneration failed, marking report stale", "run_id", runID, "error", err)
		if markErr := o.Store.MarkReportStale(ctx, runID, true); markErr != nil {
			o.Logger.Error("failed to mark report stale", "run_id", runID, "error", markErr)
		}
		return outcome, nil
	}
	outcome.ReportRegenerated = true
	return outcome, nil
}
