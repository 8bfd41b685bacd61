package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// SheetOptions configures the XLSX reader.
type SheetOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	HeaderRow  int    // zero-based index of the header row
}

// ReadSheet reads an XLSX file and returns one Record per non-blank row
// below the header row.
func ReadSheet(path string, opts SheetOptions) ([]Record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return readSheet(f, opts)
}

// ReadSheetBytes is ReadSheet for an in-memory workbook, such as a
// downloaded export.
func ReadSheetBytes(data []byte, opts SheetOptions) ([]Record, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open binary")
	}
	return readSheet(f, opts)
}

func readSheet(f *xlsx.File, opts SheetOptions) ([]Record, error) {
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	if opts.HeaderRow >= len(sheet.Rows) {
		return []Record{}, nil
	}

	headers := normalizeHeaders(rowToStrings(sheet.Rows[opts.HeaderRow]))
	records := make([]Record, 0, len(sheet.Rows)-opts.HeaderRow-1)
	for _, row := range sheet.Rows[opts.HeaderRow+1:] {
		if row == nil {
			continue
		}
		if rec := buildRecord(headers, rowToStrings(row)); rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func getSheet(f *xlsx.File, opts SheetOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
