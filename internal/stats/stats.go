// Package stats is the single source of truth for every count shown to
// an operator, whether on the console, the workbook cover page or the
// finalize report. No other package may recompute these numbers.
package stats

import (
	"context"

	"github.com/sqlguardian/auditor/internal/core"
)

// Source is the read-only store seam Calculate needs.
type Source interface {
	GetFindings(ctx context.Context, runID int64, findingType core.FindingType) ([]core.Finding, error)
	ListAnnotations(ctx context.Context) ([]core.Annotation, error)
	ListActions(ctx context.Context, initialRunID int64) ([]core.ActionLogEntry, error)
}

// Stats is the full set of numbers every consumer needs.
type Stats struct {
	TotalFindings        int
	ActiveIssues         int
	DocumentedExceptions int
	Compliant            int

	FixedSinceBaseline      int
	RegressionsSinceBaseline int
	NewIssuesSinceBaseline  int

	FixedSinceLast      int
	RegressionsSinceLast int
	NewIssuesSinceLast  int
}

// Calculate computes every stat in one pass. previousID is nil when this
// is the first sync against a baseline (no prior sync run to diff
// against); in that case the
// "since_last" numbers equal the "since_baseline" numbers.
func Calculate(ctx context.Context, src Source, baselineID, currentID int64, previousID *int64) (Stats, error) {
	findings, err := src.GetFindings(ctx, currentID, "")
	if err != nil {
		return Stats{}, err
	}
	annotations, err := src.ListAnnotations(ctx)
	if err != nil {
		return Stats{}, err
	}
	byUUID, byKey := indexAnnotations(annotations)

	var s Stats
	for _, f := range findings {
		s.TotalFindings++
		switch {
		case f.Status == core.StatusPass:
			s.Compliant++
		case isException(f, byUUID, byKey):
			s.DocumentedExceptions++
		default:
			s.ActiveIssues++
		}
	}

	actions, err := src.ListActions(ctx, baselineID)
	if err != nil {
		return Stats{}, err
	}
	for _, a := range actions {
		switch a.ChangeType {
		case core.ChangeFixed:
			s.FixedSinceBaseline++
		case core.ChangeRegression:
			s.RegressionsSinceBaseline++
		case core.ChangeNewIssue:
			s.NewIssuesSinceBaseline++
		}
	}

	if previousID == nil {
		s.FixedSinceLast = s.FixedSinceBaseline
		s.RegressionsSinceLast = s.RegressionsSinceBaseline
		s.NewIssuesSinceLast = s.NewIssuesSinceBaseline
		return s, nil
	}

	for _, a := range actions {
		if a.SyncRunID == nil || *a.SyncRunID != currentID {
			continue
		}
		switch a.ChangeType {
		case core.ChangeFixed:
			s.FixedSinceLast++
		case core.ChangeRegression:
			s.RegressionsSinceLast++
		case core.ChangeNewIssue:
			s.NewIssuesSinceLast++
		}
	}
	return s, nil
}

func indexAnnotations(annotations []core.Annotation) (map[string]core.Annotation, map[string]core.Annotation) {
	byUUID := make(map[string]core.Annotation, len(annotations))
	byKey := make(map[string]core.Annotation, len(annotations))
	for _, a := range annotations {
		if a.RowUUID != "" {
			byUUID[a.RowUUID] = a
		}
		byKey[string(a.EntityType)+"|"+a.EntityKey] = a
	}
	return byUUID, byKey
}

func isException(f core.Finding, byUUID, byKey map[string]core.Annotation) bool {
	if !f.Status.IsActive() {
		return false
	}
	var a core.Annotation
	var ok bool
	if f.RowUUID != "" {
		a, ok = byUUID[f.RowUUID]
	}
	if !ok {
		a, ok = byKey[string(f.FindingType)+"|"+f.EntityKey]
	}
	if !ok {
		return false
	}
	return a.IsDocumentedException()
}
