package pipeline

import (
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Point is one value of a dated chart series. Series is empty unless the
// series was split.
type Point struct {
	Date   civil.Date      `json:"date"`
	Series string          `json:"series,omitempty"`
	Value  decimal.Decimal `json:"value"`
}

// MonthEndSnapshot keeps only the records dated on the latest date present
// in their month.
func MonthEndSnapshot(records []Record) []Record {
	latest := make(map[int]civil.Date)
	for _, r := range records {
		k := r.Year*100 + r.Month
		if d, ok := latest[k]; !ok || d.Before(r.Date) {
			latest[k] = r.Date
		}
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if latest[r.Year*100+r.Month] == r.Date {
			out = append(out, r)
		}
	}
	return out
}

// BalanceSeries sums field per date, optionally split by aging interval.
// Points are sorted by date, then by bucket order.
func BalanceSeries(records []Record, field Field, bySegment bool) []Point {
	type key struct {
		date   civil.Date
		series string
	}
	sums := make(map[key]decimal.Decimal)
	for _, r := range records {
		k := key{date: r.Date}
		if bySegment {
			k.series = r.Value(FieldAgingInterval)
			if k.series == "" {
				continue
			}
		}
		if v := r.Money(field); v.Valid {
			sums[k] = sums[k].Add(v.Decimal)
		} else if _, ok := sums[k]; !ok {
			sums[k] = decimal.Zero
		}
	}

	out := make([]Point, 0, len(sums))
	for k, v := range sums {
		out = append(out, Point{Date: k.date, Series: k.series, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return seriesLess(out[i].Series, out[j].Series)
	})
	return out
}

func seriesLess(a, b string) bool {
	sa, errA := ParseSegment(a)
	sb, errB := ParseSegment(b)
	if errA == nil && errB == nil {
		return sa < sb
	}
	return a < b
}

// ProcessingDays is the number of days between a permit request and its
// issue. It is false until the permit is issued.
func ProcessingDays(r Record) (int, bool) {
	issued, ok := r.Dates[FieldIssueDate]
	if !ok {
		return 0, false
	}
	return issued.DaysSince(r.Date), true
}

// DaysTaken is the number of days between an invoice or bill and its
// payment.
func DaysTaken(r Record) (int, bool) {
	paid, ok := r.Dates[FieldPaidDate]
	if !ok {
		return 0, false
	}
	return paid.DaysSince(r.Date), true
}

// Count is one status counter.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// CountBy counts records whose f equals each of values, in the order given.
func CountBy(records []Record, f Field, values ...string) []Count {
	idx := make(map[string]int, len(values))
	out := make([]Count, len(values))
	for i, v := range values {
		out[i].Value = v
		idx[strings.TrimSpace(v)] = i
	}
	for _, r := range records {
		if i, ok := idx[strings.TrimSpace(r.Value(f))]; ok {
			out[i].Count++
		}
	}
	return out
}

// AverageDays averages fn over the records for which it is defined.
func AverageDays(records []Record, fn func(Record) (int, bool)) (decimal.Decimal, bool) {
	total, n := 0, 0
	for _, r := range records {
		if d, ok := fn(r); ok {
			total += d
			n++
		}
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(n))).Round(1), true
}

// Summary holds the chart figures a report supports.
type Summary struct {
	Report      ReportType       `json:"report"`
	Records     int              `json:"records"`
	Balance     []Point          `json:"balance,omitempty"`
	Counts      []Count          `json:"counts,omitempty"`
	AverageDays *decimal.Decimal `json:"average_days,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// Summarize computes the balance series of reports carrying an open
// balance, the status counters of schema.CountField and the average of
// the first duration. With monthEnd the balance uses month-end snapshots.
func Summarize(records []Record, schema Schema, bySegment, monthEnd bool) Summary {
	s := Summary{Report: schema.Report, Records: len(records)}
	if schema.HasBalance() {
		balance := records
		if monthEnd {
			balance = MonthEndSnapshot(records)
		}
		s.Balance = BalanceSeries(balance, schema.BalanceField(), bySegment)
	}
	if schema.CountField != "" {
		s.Counts = CountBy(records, schema.CountField, schema.Enums[schema.CountField]...)
	}
	if len(schema.Durations) > 0 {
		if avg, ok := AverageDays(records, schema.Durations[0].Days); ok {
			s.AverageDays = &avg
		}
	}
	return s
}

// Row is a record rendered for display, keyed by canonical field.
type Row map[Field]string

// Render renders records in display form. Dates use DisplayDateLayout.
func Render(records []Record, fields []Field) []Row {
	out := make([]Row, len(records))
	for i, r := range records {
		row := make(Row, len(fields))
		for _, f := range fields {
			row[f] = r.Value(f)
		}
		out[i] = row
	}
	return out
}
