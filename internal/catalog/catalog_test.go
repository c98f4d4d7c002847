package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/catalog-enricher/internal/model"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func createTestCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportFile_XLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"description", "identifier", "priority"},
			{"HP CF259X toner cartridge", "CF259X", "high"},
			{"Canon CRG-055 toner", "CRG-055", ""},
		},
	})

	items, err := ImportFile(path, Options{PriorityColumn: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "HP CF259X toner cartridge", items[0].Item.RawInput)
	assert.Equal(t, "CF259X", items[0].Item.Identifier)
	assert.Equal(t, model.ItemStatusPending, items[0].Item.Status)
	assert.Equal(t, model.PriorityHigh, items[0].Priority)

	assert.Equal(t, "CRG-055", items[1].Item.Identifier)
	assert.Equal(t, model.PriorityMedium, items[1].Priority, "missing priority defaults to medium")
}

func TestImportFile_CSV(t *testing.T) {
	path := createTestCSV(t, "description,identifier\nHP CF259X toner,CF259X\nBrother TN-760,TN-760\n")

	items, err := ImportFile(path, Options{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "TN-760", items[1].Item.Identifier)
}

func TestImportFile_SkipsEmptyAndDuplicateRows(t *testing.T) {
	path := createTestCSV(t, "HP CF259X toner,CF259X\n,\nHP CF-259.X toner,CF-259.X\nCanon 055,055X\n")

	items, err := ImportFile(path, Options{})
	require.NoError(t, err)
	// CF-259.X normalizes to the same identifier as CF259X.
	require.Len(t, items, 2)
	assert.Equal(t, "CF259X", items[0].Item.Identifier)
	assert.Equal(t, "055X", items[1].Item.Identifier)
}

func TestImportFile_SheetSelection(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Ignore": {{"wrong,row"}},
		"Parts":  {{"HP CF259X", "CF259X"}},
	})

	items, err := ImportFile(path, Options{SheetName: "Parts"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = ImportFile(path, Options{SheetName: "Nope"})
	require.Error(t, err)
}

func TestImportFile_UnsupportedExtension(t *testing.T) {
	_, err := ImportFile("items.pdf", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestImportFile_NoIdentifierColumn(t *testing.T) {
	path := createTestCSV(t, "HP CF259X toner\nCanon 055 toner\n")

	items, err := ImportFile(path, Options{IdentifierColumn: -1})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Empty(t, items[0].Item.Identifier)
	assert.Equal(t, "HP CF259X toner", items[0].Item.RawInput)
}
