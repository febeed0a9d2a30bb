// Package export writes report results as spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/ops-review/internal/pipeline"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const (
	recordsSheet = "Records"
	summarySheet = "Summary"
)

// ParseFormat validates a requested export format. Empty means xlsx.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("ParseFormat: unsupported export format %q", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Filename returns the download name for a report export.
func (f Format) Filename(report pipeline.ReportType) string {
	return fmt.Sprintf("%s.%s", report, f)
}

// Write renders report in format to w. Columns follow the schema's field
// order and are labeled with the source headers.
func Write(w io.Writer, format Format, schema pipeline.Schema, report *pipeline.Report) error {
	fields := schema.Fields()
	header := Headers(schema, fields)

	switch format {
	case FormatCSV:
		return writeCSV(w, header, fields, report.Rows)
	case FormatXLSX:
		return writeXLSX(w, header, fields, report)
	}
	return fmt.Errorf("Write: unsupported export format %q", format)
}

// Headers labels fields with their source column names where one exists.
func Headers(schema pipeline.Schema, fields []pipeline.Field) []string {
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = schema.Label(f)
	}
	return header
}

func writeCSV(w io.Writer, header []string, fields []pipeline.Field, rows []pipeline.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writeCSV: header: %w", err)
	}
	line := make([]string, len(fields))
	for _, row := range rows {
		for i, f := range fields {
			line[i] = row[f]
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("writeCSV: row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, header []string, fields []pipeline.Field, report *pipeline.Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return fmt.Errorf("writeXLSX: rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("writeXLSX: header style: %w", err)
	}

	if err := setRow(f, recordsSheet, 1, toAny(header)); err != nil {
		return err
	}
	end, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(recordsSheet, "A1", end, bold); err != nil {
		return fmt.Errorf("writeXLSX: apply style: %w", err)
	}

	for i, row := range report.Rows {
		values := make([]any, len(fields))
		for j, fld := range fields {
			values[j] = row[fld]
		}
		if err := setRow(f, recordsSheet, i+2, values); err != nil {
			return err
		}
	}

	if len(report.Groups) > 0 {
		if err := writeSummary(f, report.Groups, bold); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writeXLSX: write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, groups []pipeline.Group, style int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("writeSummary: new sheet: %w", err)
	}

	sums := sumFields(groups)
	header := []any{"Group", "Count"}
	for _, fld := range sums {
		header = append(header, string(fld))
	}
	if err := setRow(f, summarySheet, 1, header); err != nil {
		return err
	}
	end, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(summarySheet, "A1", end, style); err != nil {
		return fmt.Errorf("writeSummary: apply style: %w", err)
	}

	for i, g := range groups {
		values := []any{g.Key.Label, g.Count}
		for _, fld := range sums {
			v, _ := g.Sum(fld).Float64()
			values = append(values, v)
		}
		if err := setRow(f, summarySheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

// sumFields returns the summed fields in name order.
func sumFields(groups []pipeline.Group) []pipeline.Field {
	seen := make(map[pipeline.Field]bool)
	var fields []pipeline.Field
	for _, g := range groups {
		for f := range g.Sums {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("setRow: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("setRow: %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
