package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dvloznov/ops-review/internal/logger"
	"github.com/dvloznov/ops-review/internal/pipeline"
	"github.com/shopspring/decimal"
)

func timesheetTable() pipeline.Table {
	return pipeline.Table{
		Header: []string{"Date", "Nome", "Error", "Team", "Corporation", "ADD $", "REMOVE $"},
		Rows: [][]any{
			{"01/08/2024", "Ana", "Late", "Roofing", "Acme", "0", "25.00"},
			{"01/09/2024", "Bruno", "Missed punch", "Framing", "Acme", "40", ""},
			{"01/15/2024", "Carla", "Late", "Roofing", "Beta", "", "12.5"},
			{"02/02/2024", "Davi", "Late", "Framing", "Acme", "10", "0"},
			{"02/05/2024", "Eva", "Absent", "Roofing", "Acme", "", "100"},
			{"bad date", "Fabio", "Late", "Roofing", "Acme", "", "1"},
		},
	}
}

func TestRun_GroupsByTeam(t *testing.T) {
	schema, err := pipeline.LookupSchema(pipeline.ReportTimesheet)
	if err != nil {
		t.Fatalf("LookupSchema failed: %v", err)
	}

	req := pipeline.Request{
		GroupBy:     string(pipeline.FieldTeam),
		Sum:         []pipeline.Field{pipeline.FieldAddValue, pipeline.FieldRemoveValue},
		SortByCount: true,
	}
	report, err := pipeline.Run(context.Background(), timesheetTable(), schema, req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Records) != 5 {
		t.Errorf("expected 5 records, got %d", len(report.Records))
	}
	if len(report.Rejections) != 1 {
		t.Errorf("expected 1 rejection, got %d", len(report.Rejections))
	}
	if len(report.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(report.Groups))
	}

	roofing := report.Groups[0]
	if roofing.Key.Label != "Roofing" || roofing.Count != 3 {
		t.Errorf("first group = %s/%d, want Roofing/3", roofing.Key.Label, roofing.Count)
	}
	if !roofing.Sum(pipeline.FieldRemoveValue).Equal(decimal.RequireFromString("137.5")) {
		t.Errorf("Roofing remove = %s, want 137.5", roofing.Sum(pipeline.FieldRemoveValue))
	}
	framing := report.Groups[1]
	if !framing.Sum(pipeline.FieldAddValue).Equal(decimal.NewFromInt(50)) {
		t.Errorf("Framing add = %s, want 50", framing.Sum(pipeline.FieldAddValue))
	}
	if report.Empty {
		t.Error("report should not be empty")
	}
}

func TestRun_FiltersAndRendersRows(t *testing.T) {
	schema, _ := pipeline.LookupSchema(pipeline.ReportTimesheet)
	year, month := 2024, 1
	req := pipeline.Request{
		Criteria: pipeline.Criteria{
			Year:       &year,
			Month:      &month,
			Categories: []string{"Late"},
			In:         map[pipeline.Field][]string{pipeline.FieldCorporation: {"Acme"}},
		},
	}

	report, err := pipeline.Run(context.Background(), timesheetTable(), schema, req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(report.Rows))
	}
	row := report.Rows[0]
	if row[pipeline.FieldName] != "Ana" || row[pipeline.FieldDate] != "01/08/2024" {
		t.Errorf("unexpected row %v", row)
	}
	if report.Groups != nil {
		t.Error("groups should be nil without GroupBy")
	}
}

func TestRun_EmptyResult(t *testing.T) {
	schema, _ := pipeline.LookupSchema(pipeline.ReportTimesheet)
	req := pipeline.Request{Criteria: pipeline.Criteria{Categories: []string{"Nonexistent"}}}

	report, err := pipeline.Run(context.Background(), timesheetTable(), schema, req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Empty || report.Message != pipeline.EmptyMessage {
		t.Errorf("expected empty report with message, got empty=%v message=%q", report.Empty, report.Message)
	}
}

func TestRun_Errors(t *testing.T) {
	schema, _ := pipeline.LookupSchema(pipeline.ReportTimesheet)

	t.Run("missing column", func(t *testing.T) {
		table := pipeline.Table{Header: []string{"Date"}, Rows: [][]any{{"01/01/2024"}}}
		_, err := pipeline.Run(context.Background(), table, schema, pipeline.Request{})
		if !errors.Is(err, pipeline.ErrMissingColumn) {
			t.Errorf("expected ErrMissingColumn, got %v", err)
		}
		if err != nil && !strings.Contains(err.Error(), "pipeline step 1 failed") {
			t.Errorf("error should name the failing step: %v", err)
		}
	})

	t.Run("invalid criteria", func(t *testing.T) {
		month := 14
		_, err := pipeline.Run(context.Background(), timesheetTable(), schema, pipeline.Request{Criteria: pipeline.Criteria{Month: &month}})
		if err == nil || !strings.Contains(err.Error(), "pipeline step 2 failed") {
			t.Errorf("expected filter step failure, got %v", err)
		}
	})
}

func TestNormalizeStep_LogsCounts(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))

	schema, _ := pipeline.LookupSchema(pipeline.ReportTimesheet)
	state := &pipeline.PipelineState{Table: timesheetTable(), Schema: schema}
	if err := (&pipeline.NormalizeStep{}).Execute(ctx, state); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(buf.String(), "normalized table") {
		t.Errorf("expected log line, got %q", buf.String())
	}
	if len(state.Records) != 5 {
		t.Errorf("expected 5 records in state, got %d", len(state.Records))
	}
}

// stepFunc adapts a function to pipeline.PipelineStep.
type stepFunc func(ctx context.Context, state *pipeline.PipelineState) error

func (f stepFunc) Execute(ctx context.Context, state *pipeline.PipelineState) error {
	return f(ctx, state)
}

func TestPipeline_StopsOnFirstError(t *testing.T) {
	var ran []int
	boom := errors.New("boom")
	p := pipeline.NewPipeline(
		stepFunc(func(ctx context.Context, s *pipeline.PipelineState) error { ran = append(ran, 1); return nil }),
		stepFunc(func(ctx context.Context, s *pipeline.PipelineState) error { ran = append(ran, 2); return boom }),
		stepFunc(func(ctx context.Context, s *pipeline.PipelineState) error { ran = append(ran, 3); return nil }),
	)

	err := p.Execute(context.Background(), &pipeline.PipelineState{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if len(ran) != 2 {
		t.Errorf("steps run = %v, want [1 2]", ran)
	}
}
