package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
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
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadSheet_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{" ID ", "Name", "Category"},
			{"1", "Tenmangu", "shrine"},
			{"2", "Suzume Cafe", "cafe"},
		},
	})

	recs, err := ReadSheet(path, SheetOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Record{"id": "1", "name": "Tenmangu", "category": "shrine"}, recs[0])
	assert.Equal(t, "Suzume Cafe", recs[1]["name"])
}

func TestReadSheet_SkipsBlankRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"id", "name"},
			{"1", "a"},
			{"", " "},
			{"2", "b"},
		},
	})

	recs, err := ReadSheet(path, SheetOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[1]["id"])
}

func TestReadSheet_HeaderRow(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Kueccha POI list"},
			{"id", "name"},
			{"1", "a"},
		},
	})

	recs, err := ReadSheet(path, SheetOptions{HeaderRow: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Record{"id": "1", "name": "a"}, recs[0])
}

func TestReadSheet_SheetName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"First":  {{"id"}, {"x"}},
		"Second": {{"id"}, {"y"}},
	})

	recs, err := ReadSheet(path, SheetOptions{SheetName: "Second"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "y", recs[0]["id"])
}

func TestReadSheet_SheetNameNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"id"}}})

	_, err := ReadSheet(path, SheetOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadSheet_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"id"}}})

	_, err := ReadSheet(path, SheetOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadSheet_HeaderOnly(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"id", "name"}}})

	recs, err := ReadSheet(path, SheetOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadSheet_MissingFile(t *testing.T) {
	_, err := ReadSheet(filepath.Join(t.TempDir(), "nope.xlsx"), SheetOptions{})
	assert.Error(t, err)
}

func TestReadSheetBytes(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"id", "name"}, {"1", "a"}}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	recs, err := ReadSheetBytes(data, SheetOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0]["name"])
}

func TestReadSheetBytes_Garbage(t *testing.T) {
	_, err := ReadSheetBytes([]byte("not a zip"), SheetOptions{})
	assert.Error(t, err)
}
