package pipeline

import (
	"sort"
	"strings"
	"time"
)

// Options are the choices a report screen offers for the current data.
type Options struct {
	Years       []int              `json:"years"`
	Months      []int              `json:"months"`
	DefaultYear int                `json:"default_year"`
	Month       int                `json:"month"`
	Categories  []string           `json:"categories"`
	Segments    []string           `json:"segments,omitempty"`
	Values      map[Field][]string `json:"values"`
}

// Distinct returns the sorted distinct non-empty display values of f.
func Distinct(records []Record, f Field) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range records {
		v := strings.TrimSpace(r.Value(f))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// AvailableYears returns the sorted distinct years.
func AvailableYears(records []Record) []int {
	seen := make(map[int]bool)
	out := []int{}
	for _, r := range records {
		if !seen[r.Year] {
			seen[r.Year] = true
			out = append(out, r.Year)
		}
	}
	sort.Ints(out)
	return out
}

// AvailableMonths returns the sorted distinct months of year.
func AvailableMonths(records []Record, year int) []int {
	seen := make(map[int]bool)
	out := []int{}
	for _, r := range records {
		if r.Year == year && !seen[r.Month] {
			seen[r.Month] = true
			out = append(out, r.Month)
		}
	}
	sort.Ints(out)
	return out
}

// DefaultYear picks the current year when it has data, otherwise the
// latest one. It returns 0 when years is empty.
func DefaultYear(years []int, now time.Time) int {
	if len(years) == 0 {
		return 0
	}
	for _, y := range years {
		if y == now.Year() {
			return y
		}
	}
	latest := years[0]
	for _, y := range years[1:] {
		if y > latest {
			latest = y
		}
	}
	return latest
}

// ResolveMonth keeps MonthCompleteYear and any available month; anything
// else falls back to MonthCompleteYear.
func ResolveMonth(selected int, months []int) int {
	if selected == MonthCompleteYear {
		return selected
	}
	for _, m := range months {
		if m == selected {
			return selected
		}
	}
	return MonthCompleteYear
}

// ResolveYear keeps selected when it has data, otherwise returns DefaultYear.
func ResolveYear(selected int, years []int, now time.Time) int {
	for _, y := range years {
		if y == selected {
			return selected
		}
	}
	return DefaultYear(years, now)
}

// DeriveOptions computes the filter choices for records. Category, text
// and descriptive fields get their distinct values; year and month are
// resolved from the selection the way the report screens do.
func DeriveOptions(records []Record, schema Schema, selectedYear, selectedMonth int, now time.Time) Options {
	years := AvailableYears(records)
	year := ResolveYear(selectedYear, years, now)
	months := AvailableMonths(records, year)

	opts := Options{
		Years:       years,
		Months:      months,
		DefaultYear: year,
		Month:       ResolveMonth(selectedMonth, months),
		Categories:  Distinct(records, FieldCategory),
		Values:      make(map[Field][]string),
	}

	if _, ok := schema.Column(FieldPastDue); ok {
		present := make(map[Segment]bool)
		for _, r := range records {
			if r.Segment != nil {
				present[*r.Segment] = true
			}
		}
		for _, s := range Segments() {
			if present[s] {
				opts.Segments = append(opts.Segments, s.String())
			}
		}
	}

	for _, c := range schema.Columns {
		if c.Kind != KindText || c.Field == FieldCategory {
			continue
		}
		opts.Values[c.Field] = Distinct(records, c.Field)
	}
	return opts
}
