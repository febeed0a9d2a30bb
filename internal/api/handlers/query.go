package handlers

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/ops-review/internal/pipeline"
)

// inPrefix marks query parameters that restrict a field to a value set,
// e.g. in.team=Roofing&in.team=Framing.
const inPrefix = "in."

// selectAll as one of a selection's values clears it, as the dashboard's
// "All" pill does.
const selectAll = "All"

// queryDateLayouts are accepted for start and end, ISO first.
var queryDateLayouts = []string{"2006-01-02", pipeline.DisplayDateLayout}

// ParseRequest builds a pipeline request from report query parameters.
func ParseRequest(q url.Values) (pipeline.Request, error) {
	var req pipeline.Request

	c, err := ParseCriteria(q)
	if err != nil {
		return req, err
	}
	req.Criteria = c

	req.GroupBy = strings.TrimSpace(q.Get("by"))
	for _, f := range multi(q, "sum") {
		req.Sum = append(req.Sum, pipeline.Field(f))
	}
	req.SortByCount = q.Get("sort") == "count"
	if v := q.Get("month_end"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("ParseRequest: month_end: %q is not a boolean", v)
		}
		req.MonthEnd = b
	}
	return req, nil
}

// ParseCriteria reads year, month, category, q, start, end, segment and
// in.<field> parameters. Category and in.<field> values repeat, since names
// may hold commas; segment may also be a comma list.
func ParseCriteria(q url.Values) (pipeline.Criteria, error) {
	var c pipeline.Criteria

	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("ParseCriteria: year: %q is not a number", v)
		}
		c.Year = &year
	}
	if v := q.Get("month"); v != "" {
		month, err := parseMonth(v)
		if err != nil {
			return c, err
		}
		c.Month = &month
	}

	c.Categories = selection(values(q, "category"))
	c.Text = strings.TrimSpace(q.Get("q"))

	start, end := q.Get("start"), q.Get("end")
	if start != "" || end != "" {
		if start == "" || end == "" {
			return c, fmt.Errorf("ParseCriteria: start and end must be given together")
		}
		s, err := parseQueryDate(start)
		if err != nil {
			return c, fmt.Errorf("ParseCriteria: start: %w", err)
		}
		e, err := parseQueryDate(end)
		if err != nil {
			return c, fmt.Errorf("ParseCriteria: end: %w", err)
		}
		c.DateRange = &pipeline.DateRange{Start: s, End: e}
	}

	for _, label := range selection(multi(q, "segment")) {
		seg, err := pipeline.ParseSegment(label)
		if err != nil {
			return c, fmt.Errorf("ParseCriteria: %w", err)
		}
		c.Segments = append(c.Segments, seg)
	}

	for key := range q {
		if !strings.HasPrefix(key, inPrefix) {
			continue
		}
		field := pipeline.Field(strings.TrimPrefix(key, inPrefix))
		if field == "" {
			continue
		}
		vals := selection(values(q, key))
		if len(vals) == 0 {
			continue
		}
		if c.In == nil {
			c.In = make(map[pipeline.Field][]string)
		}
		c.In[field] = vals
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// parseMonth accepts 0-12 or "all" for the complete year.
func parseMonth(v string) (int, error) {
	if strings.EqualFold(v, "all") {
		return pipeline.MonthCompleteYear, nil
	}
	month, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("ParseCriteria: month: %q is not a number", v)
	}
	return month, nil
}

func parseQueryDate(v string) (civil.Date, error) {
	for _, layout := range queryDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("%q is not a date", v)
}

// multi returns the non-empty values of key, splitting comma lists.
func multi(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// values returns the trimmed non-empty values of key.
func values(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		if p := strings.TrimSpace(v); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// selection returns nil when vals holds selectAll.
func selection(vals []string) []string {
	for _, v := range vals {
		if v == selectAll {
			return nil
		}
	}
	return vals
}

// queryInt reads an integer parameter, returning def when absent or invalid.
func queryInt(q url.Values, key string, def int) int {
	if v := q.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
