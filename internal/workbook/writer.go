package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// FindingRow is one data sheet row the writer emits: key/fact values keyed
// by column header, plus the identity and annotation fields every finding
// sheet carries regardless of type.
type FindingRow struct {
	RowUUID       string
	Values        map[string]string // key + fact column values, by header
	ReviewStatus  string
	Justification string
	Notes         string
	Purpose       string
	LastReviewed  string
}

// Write renders the full workbook: every declared sheet in Sheets, Cover
// and Instances populated from the supplied summaries, and Actions from
// the action log. Returns the *excelize.File so callers can stream it to
// disk or to a response writer.
func Write(cover CoverData, instances []InstanceRow, findingRows map[string][]FindingRow, actions []ActionRow) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := writeCover(f, cover); err != nil {
		return nil, err
	}
	if err := writeInstances(f, instances); err != nil {
		return nil, err
	}
	for _, spec := range Sheets {
		switch spec.Name {
		case "Cover", "Instances", "Actions":
			continue
		}
		if err := writeFindingSheet(f, spec, findingRows[spec.Name]); err != nil {
			return nil, err
		}
	}
	if err := writeActions(f, actions); err != nil {
		return nil, err
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(0)
	return f, nil
}

func writeFindingSheet(f *excelize.File, spec SheetSpec, rows []FindingRow) error {
	if _, err := f.NewSheet(spec.Name); err != nil {
		return fmt.Errorf("create sheet %s: %w", spec.Name, err)
	}

	headers := append([]string{hiddenUUIDHeader}, headerNames(spec.Columns)...)
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(spec.Name, cell, h); err != nil {
			return err
		}
	}

	reviewStatusCol, _ := excelize.CoordinatesToCellName(indexOf(headers, "Review Status")+1, 1)
	if reviewStatusCol != "" {
		dv := excelize.NewDataValidation(true)
		dv.Sqref = fmt.Sprintf("%s2:%s100000", reviewStatusCol, reviewStatusCol)
		if err := dv.SetDropList([]string{"", "Exception", "Needs Review", "Reviewed", "Rejected"}); err == nil {
			_ = f.AddDataValidation(spec.Name, dv)
		}
	}

	for i, row := range rows {
		excelRow := i + 2
		values := map[string]string{
			hiddenUUIDHeader: row.RowUUID,
			"Review Status":  row.ReviewStatus,
			"Justification":  row.Justification,
			"Notes":          row.Notes,
			"Purpose":        row.Purpose,
			"Last Reviewed":  row.LastReviewed,
		}
		for k, v := range row.Values {
			values[k] = v
		}
		for col, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, excelRow)
			if err := f.SetCellValue(spec.Name, cell, values[h]); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(spec.Name, "A", "A", 0); err != nil {
		return err
	}
	return nil
}

func headerNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Header
	}
	return out
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// CoverData is the set of stats and metadata the writer renders on the
// Cover sheet -- every number shown here must come from stats.Stats.
type CoverData struct {
	Organization         string
	AuditDate            string
	RunType              string
	TotalFindings        int
	ActiveIssues         int
	DocumentedExceptions int
	Compliant            int
	FixedSinceBaseline   int
	RegressionsSinceBaseline int
	NewIssuesSinceBaseline  int
}

func writeCover(f *excelize.File, c CoverData) error {
	if _, err := f.NewSheet("Cover"); err != nil {
		return err
	}
	rows := [][2]string{
		{"Organization", c.Organization},
		{"Audit Date", c.AuditDate},
		{"Run Type", c.RunType},
		{"Total Findings", fmt.Sprint(c.TotalFindings)},
		{"Active Issues", fmt.Sprint(c.ActiveIssues)},
		{"Documented Exceptions", fmt.Sprint(c.DocumentedExceptions)},
		{"Compliant", fmt.Sprint(c.Compliant)},
		{"Fixed Since Baseline", fmt.Sprint(c.FixedSinceBaseline)},
		{"Regressions Since Baseline", fmt.Sprint(c.RegressionsSinceBaseline)},
		{"New Issues Since Baseline", fmt.Sprint(c.NewIssuesSinceBaseline)},
	}
	for i, r := range rows {
		if err := f.SetCellValue("Cover", fmt.Sprintf("A%d", i+1), r[0]); err != nil {
			return err
		}
		if err := f.SetCellValue("Cover", fmt.Sprintf("B%d", i+1), r[1]); err != nil {
			return err
		}
	}
	return nil
}

// InstanceRow is one row of the Instances sheet.
type InstanceRow struct {
	Server   string
	Instance string
	Scanned  bool
}

func writeInstances(f *excelize.File, instances []InstanceRow) error {
	if _, err := f.NewSheet("Instances"); err != nil {
		return err
	}
	headers := []string{"Server", "Instance", "Scanned"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue("Instances", cell, h); err != nil {
			return err
		}
	}
	for i, inst := range instances {
		row := i + 2
		_ = f.SetCellValue("Instances", fmt.Sprintf("A%d", row), inst.Server)
		_ = f.SetCellValue("Instances", fmt.Sprintf("B%d", row), inst.Instance)
		_ = f.SetCellValue("Instances", fmt.Sprintf("C%d", row), inst.Scanned)
	}
	return nil
}

// ActionRow is one row of the append-only Actions sheet. The operator
// edits Notes and the date-override column, matched by ID, never position.
type ActionRow struct {
	ID               int64
	EntityKey        string
	ChangeType       string
	ActionDate       string
	UserDateOverride string
	Description      string
	Notes            string
}

func writeActions(f *excelize.File, actions []ActionRow) error {
	if _, err := f.NewSheet("Actions"); err != nil {
		return err
	}
	headers := []string{"ID", "Entity Key", "Change Type", "Action Date", "Date Override", "Description", "Notes"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue("Actions", cell, h); err != nil {
			return err
		}
	}
	for i, a := range actions {
		row := i + 2
		values := []any{a.ID, a.EntityKey, a.ChangeType, a.ActionDate, a.UserDateOverride, a.Description, a.Notes}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue("Actions", cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
