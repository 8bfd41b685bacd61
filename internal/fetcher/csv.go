package fetcher

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// ReadCSV reads a header row followed by data rows and returns one Record
// per non-blank row.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]Record, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	var headers []string
	records := []Record{}
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}

		if headers == nil {
			headers = normalizeHeaders(row)
			continue
		}
		if rec := buildRecord(headers, row); rec != nil {
			records = append(records, rec)
		}
	}
}
