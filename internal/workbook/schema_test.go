package workbook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlguardian/auditor/internal/workbook"
)

func TestSheets_EveryFindingSheetCarriesKeyAndStandardColumns(t *testing.T) {
	for _, spec := range workbook.Sheets {
		if spec.FindingType == "" {
			continue
		}
		t.Run(spec.Name, func(t *testing.T) {
			assert.NotEmpty(t, spec.KeyColumns(), "finding sheet must declare at least one key column")
			editable := spec.EditableColumns()
			assert.Contains(t, editable, "Review Status")
			assert.Contains(t, editable, "Justification")
			assert.Contains(t, editable, "Notes")
			assert.Contains(t, editable, "Last Reviewed")
		})
	}
}

func TestSheets_CoverInstancesActionsCarryNoKeyColumns(t *testing.T) {
	for _, name := range []string{"Cover", "Instances", "Actions"} {
		for _, spec := range workbook.Sheets {
			if spec.Name != name {
				continue
			}
			assert.Empty(t, spec.KeyColumns())
		}
	}
}
