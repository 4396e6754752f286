// Package lifecycle implements the controller that enforces the allowed
// state transitions across an organization's audit cycle.
// It owns none of the mutation logic itself -- starting a baseline or sync
// run is still the store's BeginRun, and a sync pass is still the
// orchestrator's RunSync -- its job is solely to decide whether a requested
// transition is legal and to compute the hash snapshot Finalize requires.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/stats"
)

// Store is the subset of core.Store the controller needs.
type Store interface {
	GetRun(ctx context.Context, runID int64) (core.AuditRun, error)
	LatestRun(ctx context.Context, organization string) (core.AuditRun, error)
	FinalizeRun(ctx context.Context, runID int64) error
}

// Controller enforces the baseline/sync/finalize/reopen transition table.
type Controller struct {
	Store Store
	Stats stats.Source
}

// New builds a Controller.
func New(store Store, statsSource stats.Source) *Controller {
	return &Controller{Store: store, Stats: statsSource}
}

// NextRunType decides whether organization's next run should be a baseline
// or a sync, and what its parent should be, implementing
// "none -> baseline" and "baseline|sync -> sync". An organization with no
// prior run, or whose latest run is finalized, starts a fresh baseline.
func (c *Controller) NextRunType(ctx context.Context, organization string) (runType core.RunType, baselineRunID int64, previousRunID *int64, err error) {
	latest, err := c.Store.LatestRun(ctx, organization)
	if err != nil {
		if err == core.ErrNotFound {
			return core.RunTypeBaseline, 0, nil, nil
		}
		return "", 0, nil, fmt.Errorf("get latest run: %w", err)
	}

	if latest.Status == core.RunStatusFinalized {
		return core.RunTypeBaseline, 0, nil, nil
	}

	baseline := latest.ID
	if latest.RunType == core.RunTypeSync && latest.ParentRunID != nil {
		baseline = *latest.ParentRunID
	}
	prev := latest.ID
	return core.RunTypeSync, baseline, &prev, nil
}

// FinalizeResult is what a successful Finalize call produces.
type FinalizeResult struct {
	RunID        int64
	WorkbookHash string
}

// Finalize implements "sync -> finalized": it refuses when active
// issues without a documented exception remain, unless force is set, then
// marks the run finalized and hashes the report workbook so the snapshot is
// provably unchanged afterward.
func (c *Controller) Finalize(ctx context.Context, runID int64, reportPath string, force bool) (FinalizeResult, error) {
	run, err := c.Store.GetRun(ctx, runID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("get run: %w", err)
	}
	if run.Status == core.RunStatusFinalized {
		return FinalizeResult{}, core.ErrFinalized
	}

	baseline := run.ID
	if run.ParentRunID != nil {
		baseline = *run.ParentRunID
	}
	s, err := stats.Calculate(ctx, c.Stats, baseline, run.ID, nil)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("calculate stats for finalize gate: %w", err)
	}
	if s.ActiveIssues > 0 && !force {
		return FinalizeResult{}, core.ErrFinalizeRefused
	}

	hash, err := hashFile(reportPath)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("hash report for finalize snapshot: %w", err)
	}

	if err := c.Store.FinalizeRun(ctx, runID); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize run: %w", err)
	}
	return FinalizeResult{RunID: runID, WorkbookHash: hash}, nil
}

// ReopenResult is what Reopen produces for the CLI layer.
type ReopenResult struct {
	NewRunID      int64
	BaselineRunID int64
}

// Reopen implements "finalized -> reopened_sync": it is the only path
// back into mutation once a run is finalized, and it always chains the
// new run to the original baseline rather than to the finalized run itself,
// so "since baseline" stats stay meaningful across the reopen.
func (c *Controller) Reopen(ctx context.Context, finalizedRunID int64, begin func(ctx context.Context, baselineRunID int64) (int64, error)) (ReopenResult, error) {
	run, err := c.Store.GetRun(ctx, finalizedRunID)
	if err != nil {
		return ReopenResult{}, fmt.Errorf("get run: %w", err)
	}
	if run.Status != core.RunStatusFinalized {
		return ReopenResult{}, fmt.Errorf("%w: run %d is not finalized", core.ErrInvalidTransition, finalizedRunID)
	}

	baseline := run.ID
	if run.ParentRunID != nil {
		baseline = *run.ParentRunID
	}

	newRunID, err := begin(ctx, baseline)
	if err != nil {
		return ReopenResult{}, fmt.Errorf("begin reopened sync: %w", err)
	}
	return ReopenResult{NewRunID: newRunID, BaselineRunID: baseline}, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
