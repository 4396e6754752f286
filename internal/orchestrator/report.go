package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/stats"
	"github.com/sqlguardian/auditor/internal/workbook"
)

// regenerateWorkbook renders the full report from the just-completed
// run's findings, every known instance, and the full
// action log chained to the baseline. Key-column values are recovered by
// splitting the entity key rather than re-reading collector facts, since the
// composite key already carries every key part in sheet column order.
func (o *Orchestrator) regenerateWorkbook(ctx context.Context, p SyncParams, runID int64, s stats.Stats) error {
	findings, err := o.Store.GetFindings(ctx, runID, "")
	if err != nil {
		return fmt.Errorf("get findings for report: %w", err)
	}
	annotations, err := o.Store.ListAnnotations(ctx)
	if err != nil {
		return fmt.Errorf("list annotations for report: %w", err)
	}
	annByUUID, annByKey := indexAnnotationsFull(annotations)

	sheetsByType := make(map[core.FindingType][]workbook.SheetSpec)
	for _, spec := range workbook.Sheets {
		if spec.FindingType == "" {
			continue
		}
		sheetsByType[spec.FindingType] = append(sheetsByType[spec.FindingType], spec)
	}

	findingRows := make(map[string][]workbook.FindingRow)
	scanned := make(map[int64]bool)
	for _, f := range findings {
		scanned[f.InstanceID] = true

		ann, _ := lookupAnnotation(f, annByUUID, annByKey)
		row := workbook.FindingRow{
			RowUUID:       f.RowUUID,
			ReviewStatus:  string(ann.ReviewStatus),
			Justification: ann.Justification,
			Notes:         ann.Notes,
			Purpose:       ann.Purpose,
		}
		if ann.LastReviewed != nil {
			row.LastReviewed = ann.LastReviewed.Format("2006-01-02")
		}

		for _, spec := range sheetsByType[f.FindingType] {
			row.Values = valuesFor(spec, f)
			findingRows[spec.Name] = append(findingRows[spec.Name], row)
		}
	}

	instanceDetails, err := o.Store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("list instances for report: %w", err)
	}
	instanceRows := make([]workbook.InstanceRow, 0, len(instanceDetails))
	for _, d := range instanceDetails {
		instanceRows = append(instanceRows, workbook.InstanceRow{
			Server:   d.Hostname,
			Instance: d.InstanceName,
			Scanned:  scanned[d.InstanceID],
		})
	}

	actions, err := o.Store.ListActions(ctx, p.BaselineRunID)
	if err != nil {
		return fmt.Errorf("list actions for report: %w", err)
	}
	actionRows := make([]workbook.ActionRow, 0, len(actions))
	for _, a := range actions {
		var override string
		if a.UserDateOverride != nil {
			override = a.UserDateOverride.Format("2006-01-02")
		}
		actionRows = append(actionRows, workbook.ActionRow{
			ID:               a.ID,
			EntityKey:        a.EntityKey,
			ChangeType:       string(a.ChangeType),
			ActionDate:       a.ActionDate.Format("2006-01-02"),
			UserDateOverride: override,
			Description:      a.Description,
			Notes:            a.Notes,
		})
	}

	cover := workbook.CoverData{
		Organization:             p.Organization,
		AuditDate:                p.AuditDate.Format("2006-01-02"),
		RunType:                  "sync",
		TotalFindings:            s.TotalFindings,
		ActiveIssues:             s.ActiveIssues,
		DocumentedExceptions:     s.DocumentedExceptions,
		Compliant:                s.Compliant,
		FixedSinceBaseline:       s.FixedSinceBaseline,
		RegressionsSinceBaseline: s.RegressionsSinceBaseline,
		NewIssuesSinceBaseline:   s.NewIssuesSinceBaseline,
	}

	f, err := workbook.Write(cover, instanceRows, findingRows, actionRows)
	if err != nil {
		return fmt.Errorf("render workbook: %w", err)
	}
	if err := f.SaveAs(p.ReportPath); err != nil {
		return fmt.Errorf("save workbook %s: %w", p.ReportPath, err)
	}
	return nil
}

// valuesFor maps a finding's status/description/recommendation plus its
// composite-key parts onto spec's key column headers, in order.
func valuesFor(spec workbook.SheetSpec, f core.Finding) map[string]string {
	parts := strings.Split(f.EntityKey, "|")
	if len(parts) > 0 {
		parts = parts[1:] // drop the leading finding_type segment
	}

	values := map[string]string{
		"Status":         string(f.Status),
		"Description":    f.Description,
		"Recommendation": f.Recommendation,
	}
	for i, header := range spec.KeyColumns() {
		if i < len(parts) {
			values[header] = parts[i]
		}
	}
	return values
}

func indexAnnotationsFull(annotations []core.Annotation) (map[string]core.Annotation, map[string]core.Annotation) {
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

func lookupAnnotation(f core.Finding, byUUID, byKey map[string]core.Annotation) (core.Annotation, bool) {
	if f.RowUUID != "" {
		if a, ok := byUUID[f.RowUUID]; ok {
			return a, true
		}
	}
	a, ok := byKey[string(f.FindingType)+"|"+f.EntityKey]
	return a, ok
}
