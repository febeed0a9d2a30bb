package pipeline

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
)

// MonthCompleteYear is the month value meaning "whole year": it disables
// the month criterion instead of matching a calendar month.
const MonthCompleteYear = 0

// DateRange bounds record dates. Both ends are inclusive.
type DateRange struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

// Contains evaluates the half-open interval [Start, End+1 day).
func (r DateRange) Contains(d civil.Date) bool {
	return !d.Before(r.Start) && d.Before(r.End.AddDays(1))
}

// Criteria are independently optional filters combined with AND. The zero
// value matches everything.
type Criteria struct {
	Year       *int               `json:"year,omitempty"`
	Month      *int               `json:"month,omitempty"`
	Categories []string           `json:"categories,omitempty"`
	Text       string             `json:"text,omitempty"`
	DateRange  *DateRange         `json:"date_range,omitempty"`
	In         map[Field][]string `json:"in,omitempty"`
	Segments   []Segment          `json:"segments,omitempty"`
}

// Predicate reports whether a record passes.
type Predicate func(Record) bool

// Validate rejects criteria no record could ever satisfy because of a
// malformed bound, rather than silently returning nothing.
func (c Criteria) Validate() error {
	if c.Month != nil && (*c.Month < MonthCompleteYear || *c.Month > 12) {
		return fmt.Errorf("Criteria.Validate: %w: month %d out of range 0-12", ErrInvalidCriteria, *c.Month)
	}
	if c.DateRange != nil && c.DateRange.End.Before(c.DateRange.Start) {
		return fmt.Errorf("Criteria.Validate: %w: date range end %s before start %s", ErrInvalidCriteria, c.DateRange.End, c.DateRange.Start)
	}
	return nil
}

// Compose builds the conjunction of the active criteria. It returns nil when
// no criterion is active.
func Compose(schema Schema, c Criteria) Predicate {
	var preds []Predicate

	if c.Year != nil {
		year := *c.Year
		preds = append(preds, func(r Record) bool { return r.Year == year })
	}
	if c.Month != nil && *c.Month != MonthCompleteYear {
		month := *c.Month
		preds = append(preds, func(r Record) bool { return r.Month == month })
	}
	if set := valueSet(c.Categories); set != nil {
		preds = append(preds, func(r Record) bool { return set[strings.TrimSpace(r.Category)] })
	}
	if text := strings.ToLower(strings.TrimSpace(c.Text)); text != "" {
		field := schema.TextSearchField
		preds = append(preds, func(r Record) bool {
			return strings.Contains(strings.ToLower(r.Value(field)), text)
		})
	}
	if c.DateRange != nil {
		dr := *c.DateRange
		preds = append(preds, func(r Record) bool { return dr.Contains(r.Date) })
	}
	for f, values := range c.In {
		set := valueSet(values)
		if set == nil {
			continue
		}
		field := f
		preds = append(preds, func(r Record) bool { return set[strings.TrimSpace(r.Value(field))] })
	}
	if len(c.Segments) > 0 {
		segs := make(map[Segment]bool, len(c.Segments))
		for _, s := range c.Segments {
			segs[s] = true
		}
		preds = append(preds, func(r Record) bool { return r.Segment != nil && segs[*r.Segment] })
	}

	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return func(r Record) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Apply returns the records matching c, in order. With no active criteria
// the input slice itself is returned.
func Apply(records []Record, schema Schema, c Criteria) []Record {
	pred := Compose(schema, c)
	if pred == nil {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// valueSet returns nil for an empty set.
func valueSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.TrimSpace(v)] = true
	}
	return set
}
