// Package orchestrator implements the thin controller that composes
// every other component into one sync pass. It owns no business rules of
// its own -- diffing, classification and stats are delegated to their
// packages -- its job is strictly the sequencing:
//
//	read -> re-audit -> diff -> detect exceptions -> classify -> record ->
//	write -> regenerate
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sqlguardian/auditor/internal/actionlog"
	"github.com/sqlguardian/auditor/internal/annotationsync"
	"github.com/sqlguardian/auditor/internal/classifier"
	"github.com/sqlguardian/auditor/internal/collectors"
	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/diff"
	"github.com/sqlguardian/auditor/internal/identity"
	"github.com/sqlguardian/auditor/internal/stats"
	"github.com/sqlguardian/auditor/internal/store"
	"github.com/sqlguardian/auditor/internal/workbook"
)

// Store is every store capability the orchestrator needs: the durable-store
// contract plus the identity lookups and identity-index write that only the
// sqlite implementation exposes today.
type Store interface {
	core.Store
	identity.PersistedIndex
	RecordIdentity(ctx context.Context, rowUUID string, entityType core.FindingType, compositeKey, organization string, seenAt time.Time) error
}

// Orchestrator wires identity, classification, diffing, the state machine,
// the action log and stats together for one organization's audit cycle. It
// holds no state across calls to RunSync beyond its dependencies.
type Orchestrator struct {
	Store           Store
	Resolver        *identity.Resolver
	RuleConfig      classifier.RuleConfig
	Collector       core.SQLCollector
	CollectorConfig collectors.Config
	Logger          *slog.Logger
}

// New builds an Orchestrator. logger may be nil (slog.Default is used).
func New(st Store, resolver *identity.Resolver, ruleConfig classifier.RuleConfig, collector core.SQLCollector, collectorConfig collectors.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Store:           st,
		Resolver:        resolver,
		RuleConfig:      ruleConfig,
		Collector:       collector,
		CollectorConfig: collectorConfig,
		Logger:          logger,
	}
}

// SyncParams is everything one sync pass needs beyond the Orchestrator's
// own wiring.
type SyncParams struct {
	Organization  string
	AuditDate     time.Time
	ConfigHash    string
	BaselineRunID int64
	// PreviousRunID is the immediately preceding sync run, if any. When nil
	// this is the first sync against BaselineRunID, and "previous state"
	// falls back to the baseline itself.
	PreviousRunID *int64
	ReportPath    string
	Targets       []core.Target
}

// SyncOutcome summarizes one RunSync call for the CLI layer.
type SyncOutcome struct {
	RunID               int64
	Stats               stats.Stats
	ReportRegenerated   bool
	DateWarnings        []annotationsync.DateWarning
	UnreachableTargets  []core.Target
	ChangesRecorded     int
}

// RunSync implements the sequence above. Steps 2-7 do not share a
// transaction: each store write commits as it is made. A failure in step 4
// or steps 5-6 marks the run failed, but annotations reconciled in step 2
// and any findings or action log entries the run already wrote stay in the
// store. A failure in step 2 returns before a run is opened; a failure of
// the final CompleteRun leaves the run running, and a step 7 failure
// leaves it completed. Step 8
// (workbook regeneration) is best-effort: its failure marks the run's
// report stale instead of rolling back the already-committed sync.
func (o *Orchestrator) RunSync(ctx context.Context, p SyncParams) (SyncOutcome, error) {
	// Step 1: lock check on report path (file-lock precheck, workbook
	// exclusivity). Aborts before any mutation.
	wbLock := store.NewWorkbookLock(p.ReportPath + ".lock")
	if err := wbLock.TryLock(); err != nil {
		return SyncOutcome{}, err
	}
	defer wbLock.Unlock()

	// Step 2: read annotations from the current workbook and reconcile
	// them into the store. A missing report path is the "empty workbook
	// on first sync" boundary case: nothing to read.
	dateWarnings, err := o.readAndSyncAnnotations(ctx, p)
	if err != nil {
		return SyncOutcome{}, fmt.Errorf("read and sync annotations: %w", err)
	}

	// Step 3: open a new sync run.
	runID, err := o.Store.BeginRun(ctx, p.Organization, p.AuditDate, core.RunTypeSync, &p.BaselineRunID, p.ConfigHash)
	if err != nil {
		return SyncOutcome{}, fmt.Errorf("begin sync run: %w", err)
	}

	outcome := SyncOutcome{RunID: runID, DateWarnings: dateWarnings}

	// Step 4: bounded fan-out collection, then classification and
	// persistence of every collected row.
	unreachable, err := o.collectAndClassify(ctx, p, runID)
	if err != nil {
		_ = o.Store.CompleteRun(ctx, runID, core.RunStatusFailed)
		return outcome, fmt.Errorf("collect and classify: %w", err)
	}
	outcome.UnreachableTargets = unreachable

	// Steps 5-6: diff against the prior known state, classify every
	// transition, and record the ones the state machine says to log.
	changes, err := o.classifyAndRecord(ctx, p, runID)
	if err != nil {
		_ = o.Store.CompleteRun(ctx, runID, core.RunStatusFailed)
		return outcome, fmt.Errorf("classify and record transitions: %w", err)
	}
	outcome.ChangesRecorded = changes

	if err := o.Store.CompleteRun(ctx, runID, core.RunStatusCompleted); err != nil {
		return outcome, fmt.Errorf("complete run: %w", err)
	}

	// Step 7: compute stats once, the single source every consumer reads.
	s, err := stats.Calculate(ctx, o.Store, p.BaselineRunID, runID, p.PreviousRunID)
	if err != nil {
		return outcome, fmt.Errorf("calculate stats: %w", err)
	}
	outcome.Stats = s

	// Step 8: best-effort regeneration. Failure here never undoes the
	// committed sync; it marks the run's report stale so the next sync
	// regenerates unconditionally.
	if err := o.regenerateWorkbook(ctx, p, runID, s); err != nil {
		o.Logger.Warn("workbook regeneration failed, marking report stale", "run_id", runID, "error", err)
		if markErr := o.Store.MarkReportStale(ctx, runID, true); markErr != nil {
			o.Logger.Error("failed to mark report stale", "run_id", runID, "error", markErr)
		}
		return outcome, nil
	}
	outcome.ReportRegenerated = true
	return outcome, nil
}

// readAndSyncAnnotations implements step 2. It is a no-op, not an error,
// when the report path does not exist yet.
func (o *Orchestrator) readAndSyncAnnotations(ctx context.Context, p SyncParams) ([]annotationsync.DateWarning, error) {
	f, err := openWorkbookIfExists(p.ReportPath)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	defer f.Close()

	var allWarnings []annotationsync.DateWarning
	for _, spec := range workbook.Sheets {
		if spec.FindingType == "" {
			continue
		}
		rows, err := workbook.ReadSheet(f, spec.Name)
		if err != nil {
			// A sheet the current schema doesn't recognize on an older
			// report is a soft miss, not fatal to the sync.
			o.Logger.Warn("could not read sheet, skipping", "sheet", spec.Name, "error", err)
			continue
		}
		wbRows := make([]annotationsync.WorkbookRow, 0, len(rows))
		for _, r := range rows {
			wbRows = append(wbRows, workbook.ToWorkbookRow(spec, r))
		}
		result, err := annotationsync.Sync(ctx, o.Resolver, o.Store, p.Organization, wbRows)
		if err != nil {
			return nil, fmt.Errorf("sync sheet %s: %w", spec.Name, err)
		}
		allWarnings = append(allWarnings, result.Warnings...)
	}
	return allWarnings, nil
}

func openWorkbookIfExists(path string) (*excelize.File, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat workbook %s: %w", path, err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return f, nil
}
