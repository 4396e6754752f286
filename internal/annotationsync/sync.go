// Package annotationsync reconciles operator annotations read from the
// workbook back into the durable store.
package annotationsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
)

// WorkbookRow is one annotation row as read from the spreadsheet, before
// identity resolution or normalization.
type WorkbookRow struct {
	RowUUID       string
	EntityType    core.FindingType
	KeyParts      []string
	Notes         string
	Purpose       string
	Justification string
	ReviewStatus  string
	LastReviewed  string // raw text; parsed permissively below
}

// DateWarning records a row whose last_reviewed text could not be parsed.
type DateWarning struct {
	RowUUID   string
	EntityKey string
	RawText   string
}

// Store is the subset of core.Store this package needs.
type Store interface {
	UpsertAnnotation(ctx context.Context, a core.Annotation) (core.Annotation, error)
	GetAnnotation(ctx context.Context, rowUUID string, entityType core.FindingType, entityKey string) (core.Annotation, error)
}

// Result summarizes one Sync call.
type Result struct {
	Upserted []core.Annotation
	Warnings []DateWarning
}

// permissiveLayouts are tried in order when parsing last_reviewed; this
// mirrors spreadsheet tools' tendency to emit dates in whatever the
// system locale produces.
var permissiveLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// Sync resolves identity and normalizes each row, then upserts it
// through Store. Exception-change detection is the state machine's job,
// not this package's -- it runs later against current findings, which
// this package has no visibility into.
func Sync(ctx context.Context, resolver *identity.Resolver, store Store, organization string, rows []WorkbookRow) (Result, error) {
	var result Result

	for _, row := range rows {
		compositeKey := identity.ComposeKey(row.EntityType, row.KeyParts...)
		rowUUID, err := resolver.Resolve(ctx, organization, row.RowUUID, row.EntityType, compositeKey)
		if err != nil {
			return Result{}, fmt.Errorf("resolve identity for %s: %w", compositeKey, err)
		}

		reviewStatus := core.ReviewStatus(strings.TrimSpace(row.ReviewStatus))
		if !core.ValidReviewStatuses[reviewStatus] {
			reviewStatus = core.ReviewStatusNone
		}

		a := core.Annotation{
			RowUUID:       rowUUID,
			EntityType:    row.EntityType,
			EntityKey:     compositeKey,
			Notes:         strings.TrimSpace(row.Notes),
			Purpose:       strings.TrimSpace(row.Purpose),
			Justification: strings.TrimSpace(row.Justification),
			ReviewStatus:  reviewStatus,
		}

		if raw := strings.TrimSpace(row.LastReviewed); raw != "" {
			if t, ok := parsePermissive(raw); ok {
				a.LastReviewed = &t
			} else {
				result.Warnings = append(result.Warnings, DateWarning{
					RowUUID: rowUUID, EntityKey: compositeKey, RawText: raw,
				})
				// Non-fatal: the original operator input is preserved. Carry
				// over whatever was already stored rather than blanking it
				// with this row's unparseable text.
				if existing, err := store.GetAnnotation(ctx, rowUUID, row.EntityType, compositeKey); err == nil {
					a.LastReviewed = existing.LastReviewed
				}
			}
		}

		upserted, err := store.UpsertAnnotation(ctx, a)
		if err != nil {
			return Result{}, fmt.Errorf("upsert annotation for %s: %w", compositeKey, err)
		}
		result.Upserted = append(result.Upserted, upserted)
	}

	return result, nil
}

func parsePermissive(raw string) (time.Time, bool) {
	for _, layout := range permissiveLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AutoPopulate applies the auto-population rules when regenerating the
// workbook: a FAIL/WARN row carrying a justification but
// no review_status is written as an Exception; a PASS row whose
// review_status is already "Exception" is left untouched (never cleared,
// never logged as a removal -- that decision belongs to the caller diffing
// against the state machine, not to this function).
func AutoPopulate(status core.Status, a core.Annotation) core.Annotation {
	if status.IsActive() && strings.TrimSpace(a.Justification) != "" && a.ReviewStatus == core.ReviewStatusNone {
		a.ReviewStatus = core.ReviewStatusException
	}
	return a
}
