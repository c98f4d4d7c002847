// Package catalog imports candidate items from operator-supplied XLSX
// and CSV files.
package catalog

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/dedupe"
	"github.com/sells-group/catalog-enricher/internal/model"
)

// Options configures the import.
type Options struct {
	// SheetIndex selects the XLSX sheet. Ignored for CSV.
	SheetIndex int
	// SheetName overrides SheetIndex when set.
	SheetName string
	// SkipRows skips leading rows after automatic header detection.
	SkipRows int

	// RawColumn holds the raw item description. Default: 0.
	RawColumn int
	// IdentifierColumn holds an already-known part identifier; -1 means
	// the file carries none. Default: 1.
	IdentifierColumn int
	// PriorityColumn holds high/medium/low; -1 (default) means absent.
	PriorityColumn int
}

func (o Options) withDefaults() Options {
	if o.RawColumn < 0 {
		o.RawColumn = 0
	}
	if o.IdentifierColumn == 0 {
		o.IdentifierColumn = 1
	}
	if o.PriorityColumn == 0 {
		o.PriorityColumn = -1
	}
	return o
}

// Imported is one parsed row ready for enrichment.
type Imported struct {
	Item     *model.CandidateItem
	Priority model.Priority
}

// ImportFile reads an XLSX or CSV file into candidate items. Rows with
// an empty raw column are skipped; rows whose identifier repeats an
// earlier row (after normalization) are dropped as in-file duplicates.
func ImportFile(path string, opts Options) ([]Imported, error) {
	opts = opts.withDefaults()

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path, opts)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, eris.Errorf("catalog: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return rowsToItems(rows, opts), nil
}

func readXLSX(path string, opts Options) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open xlsx")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("catalog: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("catalog: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "catalog: read csv")
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// headerWords mark a first row as a header rather than data.
var headerWords = []string{"identifier", "part", "sku", "raw_input", "description", "priority"}

func looksLikeHeader(row []string) bool {
	for _, cell := range row {
		lc := strings.ToLower(strings.TrimSpace(cell))
		for _, w := range headerWords {
			if lc == w {
				return true
			}
		}
	}
	return false
}

func rowsToItems(rows [][]string, opts Options) []Imported {
	if len(rows) > 0 && looksLikeHeader(rows[0]) {
		rows = rows[1:]
	}
	if opts.SkipRows > 0 && opts.SkipRows <= len(rows) {
		rows = rows[opts.SkipRows:]
	}

	seen := make(map[string]bool)
	var out []Imported
	skipped := 0
	for _, row := range rows {
		raw := cellAt(row, opts.RawColumn)
		if raw == "" {
			skipped++
			continue
		}

		item := model.NewCandidateItem(raw)
		item.Identifier = cellAt(row, opts.IdentifierColumn)

		key := dedupe.Normalize(item.Identifier)
		if key == "" {
			key = dedupe.Normalize(raw)
		}
		if seen[key] {
			skipped++
			continue
		}
		seen[key] = true

		out = append(out, Imported{
			Item:     item,
			Priority: model.ParsePriority(cellAt(row, opts.PriorityColumn)),
		})
	}

	zap.L().Info("catalog file imported",
		zap.Int("items", len(out)),
		zap.Int("skipped", skipped),
	)
	return out
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
