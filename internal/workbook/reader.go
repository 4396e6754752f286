package workbook

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sqlguardian/auditor/internal/annotationsync"
)

// Row is one data row read back from a sheet, keyed by header name.
type Row map[string]string

// ReadSheet reads a data sheet's rows, propagating merged-cell values down
// into every row they visually span (spreadsheet tools merge repeated key
// cells for readability; the underlying data still applies to every row).
func ReadSheet(f *excelize.File, sheet string) ([]Row, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]

	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, fmt.Errorf("read merged cells for %s: %w", sheet, err)
	}
	fillMergedCells(rows, merges)

	out := make([]Row, 0, len(rows)-1)
	for _, r := range rows[1:] {
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(r) {
				row[h] = r[i]
			} else {
				row[h] = ""
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// fillMergedCells propagates a merged range's top-left value to every cell
// position represented in rows, given as 0-indexed [row][col] string
// values already read by GetRows (which leaves non-anchor merged cells
// blank).
func fillMergedCells(rows [][]string, merges []excelize.MergeCell) {
	for _, m := range merges {
		startCol, startRow, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			continue
		}
		endCol, endRow, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			continue
		}
		value := m.GetCellValue()
		for r := startRow; r <= endRow; r++ {
			for c := startCol; c <= endCol; c++ {
				ri, ci := r-1, c-1
				if ri < 0 || ri >= len(rows) {
					continue
				}
				for len(rows[ri]) <= ci {
					rows[ri] = append(rows[ri], "")
				}
				if rows[ri][ci] == "" {
					rows[ri][ci] = value
				}
			}
		}
	}
}

// FindColumn resolves a declared header to an actual column present in the
// sheet: exact (case-insensitive) match first, then a prefix match, so a
// manually re-titled column ("Login Name (SQL)") still resolves while
// "Server" never falls back onto an unrelated "Linked Server" column --
// a prefix match requires the actual header to start with the wanted name,
// which "Linked Server" does not.
func FindColumn(headers []string, want string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h, want) {
			return h, true
		}
	}
	wantLower := strings.ToLower(want)
	for _, h := range headers {
		if strings.HasPrefix(strings.ToLower(h), wantLower) {
			return h, true
		}
	}
	return "", false
}

// ToWorkbookRow converts a read Row into the shape annotationsync.Sync
// expects. Every header this function needs -- key columns and editable
// columns alike -- is resolved through FindColumn against the sheet's
// actual headers, not looked up by literal name, so a renamed
// column still binds to the right value instead of silently reading empty.
func ToWorkbookRow(spec SheetSpec, row Row) annotationsync.WorkbookRow {
	headers := make([]string, 0, len(row))
	for h := range row {
		headers = append(headers, h)
	}
	lookup := func(want string) string {
		if h, ok := FindColumn(headers, want); ok {
			return row[h]
		}
		return ""
	}

	parts := make([]string, 0, len(spec.KeyColumns()))
	for _, k := range spec.KeyColumns() {
		parts = append(parts, lookup(k))
	}
	return annotationsync.WorkbookRow{
		RowUUID:       row[hiddenUUIDHeader],
		EntityType:    spec.FindingType,
		KeyParts:      parts,
		Notes:         lookup("Notes"),
		Purpose:       lookup("Purpose"),
		Justification: lookup("Justification"),
		ReviewStatus:  lookup("Review Status"),
		LastReviewed:  lookup("Last Reviewed"),
	}
}

const hiddenUUIDHeader = "Row UUID"
