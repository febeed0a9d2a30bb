package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/ops-review/internal/logger"
)

// EmptyMessage is shown when a valid run leaves no records.
const EmptyMessage = "No data for these filters"

// PipelineStep represents a single step of a report run.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// Request selects what a report run returns.
type Request struct {
	Criteria Criteria `json:"criteria"`

	// GroupBy is a KeyFor name. Empty skips aggregation.
	GroupBy string `json:"group_by,omitempty"`

	// Sum defaults to the schema's SumFields.
	Sum []Field `json:"sum,omitempty"`

	SortByCount bool `json:"sort_by_count,omitempty"`

	// MonthEnd keeps only the last snapshot date of each month before
	// grouping, as the complete-year balance chart does.
	MonthEnd bool `json:"month_end,omitempty"`
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Table   Table
	Schema  Schema
	Request Request

	Records    []Record
	Rejections []Rejection
	Filtered   []Record
	Groups     []Group
}

// NormalizeStep coerces the raw table into records.
type NormalizeStep struct{}

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	n, err := Normalize(state.Table, state.Schema)
	if err != nil {
		return err
	}
	state.Records = n.Records
	state.Rejections = n.Rejections

	log := logger.FromContext(ctx)
	log.Debug().
		Str("report", string(state.Schema.Report)).
		Int("rows", state.Table.Len()).
		Int("records", len(n.Records)).
		Int("rejected", len(n.Rejections)).
		Int("skipped", n.Skipped).
		Msg("normalized table")
	return nil
}

// FilterStep applies the request criteria.
type FilterStep struct{}

func (s *FilterStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := state.Request.Criteria.Validate(); err != nil {
		return err
	}
	state.Filtered = Apply(state.Records, state.Schema, state.Request.Criteria)

	log := logger.FromContext(ctx)
	log.Debug().
		Str("report", string(state.Schema.Report)).
		Int("records", len(state.Records)).
		Int("kept", len(state.Filtered)).
		Msg("filtered records")
	return nil
}

// AggregateStep groups the filtered records when the request asks for it.
type AggregateStep struct{}

func (s *AggregateStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Request.GroupBy == "" {
		return nil
	}
	records := state.Filtered
	if state.Request.MonthEnd {
		records = MonthEndSnapshot(records)
	}
	fields := state.Request.Sum
	if len(fields) == 0 {
		fields = state.Schema.SumFields
	}
	state.Groups = Aggregate(records, KeyFor(state.Request.GroupBy), fields...)
	if state.Request.SortByCount {
		SortByCountDesc(state.Groups)
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewReportPipeline creates the standard normalize, filter, aggregate pipeline.
func NewReportPipeline() *Pipeline {
	return NewPipeline(
		&NormalizeStep{},
		&FilterStep{},
		&AggregateStep{},
	)
}

// Report is the outcome of a run.
type Report struct {
	Report     ReportType  `json:"report"`
	Records    []Record    `json:"-"`
	Rows       []Row       `json:"rows"`
	Rejections []Rejection `json:"rejections,omitempty"`
	Groups     []Group     `json:"groups,omitempty"`
	Empty      bool        `json:"empty"`
	Message    string      `json:"message,omitempty"`
}

// Run normalizes, filters and optionally aggregates table. It performs no
// I/O; ctx only carries the logger.
func Run(ctx context.Context, table Table, schema Schema, req Request) (*Report, error) {
	state := &PipelineState{Table: table, Schema: schema, Request: req}
	if err := NewReportPipeline().Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("Run: %s: %w", schema.Report, err)
	}

	r := &Report{
		Report:     schema.Report,
		Records:    state.Filtered,
		Rows:       Render(state.Filtered, schema.Fields()),
		Rejections: state.Rejections,
		Groups:     state.Groups,
	}
	if len(state.Filtered) == 0 {
		r.Empty = true
		r.Message = EmptyMessage
	}
	return r, nil
}
