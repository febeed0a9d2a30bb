package pipeline

import (
	"fmt"
	"sort"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Key identifies one group. Numeric keys sort by Num, text keys by Label.
type Key struct {
	Label   string `json:"label"`
	Num     int    `json:"num,omitempty"`
	Numeric bool   `json:"-"`
}

func textKey(s string) Key { return Key{Label: s} }

func numKey(label string, n int) Key { return Key{Label: label, Num: n, Numeric: true} }

func (k Key) less(o Key) bool {
	if k.Numeric && o.Numeric {
		return k.Num < o.Num
	}
	return k.Label < o.Label
}

// KeyFunc extracts the grouping key of a record. Records for which it
// returns false take no part in the aggregation.
type KeyFunc func(Record) (Key, bool)

// Group is one bucket of an aggregation.
type Group struct {
	Key   Key                       `json:"key"`
	Count int                       `json:"count"`
	Sums  map[Field]decimal.Decimal `json:"sums"`
}

// Sum returns the total of f in g, zero when f was not summed.
func (g Group) Sum(f Field) decimal.Decimal {
	return g.Sums[f]
}

// Aggregate groups records by key, counting them and summing fields. Null
// values contribute zero. Groups come back sorted by key.
func Aggregate(records []Record, key KeyFunc, fields ...Field) []Group {
	byLabel := make(map[string]*Group)
	for _, r := range records {
		k, ok := key(r)
		if !ok {
			continue
		}
		g, ok := byLabel[k.Label]
		if !ok {
			g = &Group{Key: k, Sums: make(map[Field]decimal.Decimal, len(fields))}
			for _, f := range fields {
				g.Sums[f] = decimal.Zero
			}
			byLabel[k.Label] = g
		}
		g.Count++
		for _, f := range fields {
			if m := r.Money(f); m.Valid {
				g.Sums[f] = g.Sums[f].Add(m.Decimal)
			}
		}
	}

	out := make([]Group, 0, len(byLabel))
	for _, g := range byLabel {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// SortByCountDesc orders groups by descending count; ties keep key order.
func SortByCountDesc(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
}

// Total sums f across groups.
func Total(groups []Group, f Field) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.Sums[f])
	}
	return total
}

var epoch = civil.Date{Year: 1970, Month: 1, Day: 1}

func dateKey(d civil.Date) Key {
	return numKey(d.String(), d.DaysSince(epoch))
}

// ByYear groups by calendar year.
func ByYear(r Record) (Key, bool) {
	return numKey(strconv.Itoa(r.Year), r.Year), true
}

// ByMonth groups by year and month, labelled YYYY-MM.
func ByMonth(r Record) (Key, bool) {
	return numKey(fmt.Sprintf("%04d-%02d", r.Year, r.Month), r.Year*100+r.Month), true
}

// ByDay groups by the record date, labelled YYYY-MM-DD.
func ByDay(r Record) (Key, bool) {
	return dateKey(r.Date), true
}

// ByDate groups by an optional date field. Records without it are left out.
func ByDate(f Field) KeyFunc {
	return func(r Record) (Key, bool) {
		d, ok := r.OptionalDate(f)
		if !ok {
			return Key{}, false
		}
		return dateKey(d), true
	}
}

// ByField groups by the display value of f.
func ByField(f Field) KeyFunc {
	return func(r Record) (Key, bool) {
		return textKey(r.Value(f)), true
	}
}

// BySegment groups by aging bucket in bucket order. Unclassified records
// are left out.
func BySegment(r Record) (Key, bool) {
	if r.Segment == nil {
		return Key{}, false
	}
	return numKey(r.Segment.String(), int(*r.Segment)), true
}

// KeyFor resolves a grouping name as used by the API and CLI: year, month,
// day, segment, or any canonical field.
func KeyFor(name string) KeyFunc {
	switch name {
	case "year":
		return ByYear
	case "month":
		return ByMonth
	case "day", "date":
		return ByDay
	case "segment":
		return BySegment
	}
	f := Field(name)
	switch f {
	case FieldDueDate, FieldPaidDate, FieldApplicationDate, FieldIssueDate, FieldInvoiceDate:
		return ByDate(f)
	}
	return ByField(f)
}
