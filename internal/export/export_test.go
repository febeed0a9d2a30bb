package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/ops-review/internal/pipeline"
)

func timesheetReport(t *testing.T, groupBy string) (pipeline.Schema, *pipeline.Report) {
	t.Helper()
	schema, err := pipeline.LookupSchema(pipeline.ReportTimesheet)
	if err != nil {
		t.Fatalf("LookupSchema failed: %v", err)
	}
	table := pipeline.Table{
		Header: []string{"Date", "Nome", "Error", "Team", "Corporation", "ADD $", "REMOVE $"},
		Rows: [][]any{
			{"01/08/2024", "Ana", "Late", "Roofing", "Acme", "0", "25.00"},
			{"01/09/2024", "Bruno, Jr", "Missed punch", "Framing", "Acme", "40", ""},
		},
	}
	report, err := pipeline.Run(context.Background(), table, schema, pipeline.Request{GroupBy: groupBy})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return schema, report
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatXLSX, false},
		{"xlsx", FormatXLSX, false},
		{"csv", FormatCSV, false},
		{"pdf", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v", tt.input, got, err)
			}
		})
	}
}

func TestWrite_CSV(t *testing.T) {
	schema, report := timesheetReport(t, "")

	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, schema, report); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	lines, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	if lines[0][0] != "Date" {
		t.Errorf("first header = %q, want Date", lines[0][0])
	}
	if !strings.Contains(strings.Join(lines[2], "|"), "Bruno, Jr") {
		t.Errorf("quoted name lost: %v", lines[2])
	}
}

func TestWrite_XLSX(t *testing.T) {
	schema, report := timesheetReport(t, string(pipeline.FieldTeam))

	var buf bytes.Buffer
	if err := Write(&buf, FormatXLSX, schema, report); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("output is not a workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(recordsSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 record rows, got %d", len(rows))
	}

	summary, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatalf("GetRows(summary) failed: %v", err)
	}
	if len(summary) != 3 || summary[1][0] != "Framing" {
		t.Errorf("unexpected summary %v", summary)
	}
}

func TestFormat_ContentType(t *testing.T) {
	if FormatCSV.ContentType() != "text/csv" {
		t.Errorf("csv content type = %q", FormatCSV.ContentType())
	}
	if got := FormatXLSX.Filename(pipeline.ReportPermits); got != "permits.xlsx" {
		t.Errorf("Filename = %q", got)
	}
}
