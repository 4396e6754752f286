package workbook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sqlguardian/auditor/internal/workbook"
)

func TestReadSheet_PropagatesMergedCellsDownward(t *testing.T) {
	f := excelize.NewFile()
	sheet := "Sheet1"
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"Server", "Login Name"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]string{"sql01", "appuser"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]string{"", "svcuser"}))
	require.NoError(t, f.MergeCell(sheet, "A2", "A3"))

	rows, err := workbook.ReadSheet(f, sheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "sql01", rows[0]["Server"])
	assert.Equal(t, "sql01", rows[1]["Server"])
}

func TestReadSheet_EmptySheetReturnsNil(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Empty"))
	// A freshly created sheet has no rows at all, so GetRows returns nothing.
	rows, err := workbook.ReadSheet(f, "Empty")
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestFindColumn_ExactMatchBeforeSubstring(t *testing.T) {
	headers := []string{"Login Name (SQL)", "Login Name"}
	got, ok := workbook.FindColumn(headers, "Login Name")
	require.True(t, ok)
	assert.Equal(t, "Login Name", got)
}

func TestFindColumn_FallsBackToSubstring(t *testing.T) {
	headers := []string{"Login Name (renamed)"}
	got, ok := workbook.FindColumn(headers, "Login Name")
	require.True(t, ok)
	assert.Equal(t, "Login Name (renamed)", got)
}

func TestFindColumn_NoMatch(t *testing.T) {
	_, ok := workbook.FindColumn([]string{"Unrelated"}, "Login Name")
	assert.False(t, ok)
}

func TestToWorkbookRow_RebuildsKeyPartsInOrder(t *testing.T) {
	spec := workbook.SheetSpec{
		Name: "Server Logins",
		Columns: []workbook.Column{
			{Header: "Server", Key: true},
			{Header: "Instance", Key: true},
			{Header: "Login Name", Key: true},
		},
	}
	row := workbook.Row{
		"Server": "sql01", "Instance": "DEFAULT", "Login Name": "appuser",
		"Justification": "approved by security", "Review Status": "Exception",
	}

	wbRow := workbook.ToWorkbookRow(spec, row)
	assert.Equal(t, []string{"sql01", "DEFAULT", "appuser"}, wbRow.KeyParts)
	assert.Equal(t, "approved by security", wbRow.Justification)
	assert.Equal(t, "Exception", wbRow.ReviewStatus)
}
