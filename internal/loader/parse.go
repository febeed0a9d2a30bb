package loader

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/ops-review/internal/pipeline"
)

// Format is a spreadsheet file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

const maxXLSRows = 100000

var (
	xlsxMagic = []byte("PK\x03\x04")
	xlsMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

// FormatFromName guesses the format from a file name extension.
func FormatFromName(name string) (Format, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return FormatCSV, true
	case ".xlsx", ".xlsm":
		return FormatXLSX, true
	case ".xls":
		return FormatXLS, true
	}
	return "", false
}

// Sniff detects the format from the leading bytes, falling back to CSV.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, xlsxMagic):
		return FormatXLSX
	case bytes.HasPrefix(data, xlsMagic):
		return FormatXLS
	}
	return FormatCSV
}

// Parse reads a spreadsheet into a table. The first row left after
// opts.SkipRows is the header. An empty format is sniffed.
func Parse(data []byte, format Format, opts Options) (pipeline.Table, error) {
	if format == "" {
		format = Sniff(data)
	}

	var rows [][]string
	var err error
	switch format {
	case FormatCSV:
		rows, err = parseCSV(data)
	case FormatXLSX:
		rows, err = parseXLSX(data, opts.Sheet)
	case FormatXLS:
		rows, err = parseXLS(data, opts.Sheet)
	default:
		return pipeline.Table{}, fmt.Errorf("Parse: unsupported format %q", format)
	}
	if err != nil {
		return pipeline.Table{}, fmt.Errorf("Parse: %s: %w", format, err)
	}

	return skipRows(toTable(rows), opts.SkipRows), nil
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// parseXLSX returns raw cell values so dates arrive as serial numbers
// regardless of the workbook's display format.
func parseXLSX(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("no worksheet found")
	}
	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

func parseXLS(data []byte, sheet string) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, fmt.Errorf("no worksheet found")
	}
	if sheet == "" {
		return wb.ReadAllCells(maxXLSRows), nil
	}
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil || ws.Name != sheet {
			continue
		}
		var rows [][]string
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, 0, row.LastCol())
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("worksheet %q not found", sheet)
}

func toTable(rows [][]string) pipeline.Table {
	var t pipeline.Table
	for _, row := range rows {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// skipRows drops banner rows and promotes the next row to the header.
// A table that already has a header only loses its banner rows.
func skipRows(t pipeline.Table, n int) pipeline.Table {
	rows := t.Rows
	if n > len(rows) {
		n = len(rows)
	}
	rows = rows[n:]
	if t.Header != nil {
		return pipeline.Table{Header: t.Header, Rows: rows}
	}
	if len(rows) == 0 {
		return pipeline.Table{}
	}
	header := make([]string, len(rows[0]))
	for i, c := range rows[0] {
		if c != nil {
			header[i] = strings.TrimSpace(fmt.Sprint(c))
		}
	}
	return pipeline.Table{Header: header, Rows: rows[1:]}
}
