package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Table is a materialized sheet: a header row and loosely typed cells.
// Cells are string, float64, int, int64, time.Time or nil.
type Table struct {
	Header []string `json:"header"`
	Rows   [][]any  `json:"rows"`
}

// Len returns the number of data rows.
func (t Table) Len() int { return len(t.Rows) }

// Normalized is the output of Normalize.
type Normalized struct {
	Records    []Record
	Rejections []Rejection

	// Skipped counts rows removed by schema rules (outstanding-only,
	// minimum date, exclusions), which are not coercion failures.
	Skipped int
}

// Excel serial day range accepted as a date (1900-01-01 through 9999-12-31).
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// Normalize coerces every row of table into a Record according to schema.
// Rows failing a required field are dropped and reported as rejections; a
// bad cell never aborts the rest of the table. Output keeps input order.
func Normalize(table Table, schema Schema) (*Normalized, error) {
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("Normalize: %s: %w", schema.Report, ErrNoData)
	}

	index, err := indexColumns(table.Header, schema)
	if err != nil {
		return nil, err
	}

	enums := NewEnumValidator(schema.Enums)
	// Casers are stateful, so each run gets its own.
	caser := cases.Title(language.Und)
	layouts := schema.layouts()
	out := &Normalized{Records: make([]Record, 0, len(table.Rows))}

	for i, row := range table.Rows {
		if blankRow(row) {
			continue
		}
		rec := Record{
			Row:      i,
			Text:     make(map[Field]string),
			Dates:    make(map[Field]civil.Date),
			Measures: make(map[Field]decimal.NullDecimal),
		}

		dropped := false
		for _, col := range schema.Columns {
			idx, ok := index[col.Field]
			if !ok {
				continue
			}
			var cell any
			if idx < len(row) {
				cell = row[idx]
			}
			rej, ok := setCell(&rec, col, cell, layouts)
			if ok {
				continue
			}
			rej.Row = i
			rej.Dropped = col.Required
			out.Rejections = append(out.Rejections, rej)
			if col.Required {
				dropped = true
				break
			}
		}
		if dropped {
			continue
		}

		applyTransforms(&rec, schema, enums, caser)

		if !keep(rec, schema) {
			out.Skipped++
			continue
		}

		for _, d := range schema.Durations {
			if n, ok := d.Days(rec); ok {
				rec.Measures[d.Field] = decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(n)), Valid: true}
			}
		}

		rec.Year = rec.Date.Year
		rec.Month = int(rec.Date.Month)
		rec.Segment = ClassifyDays(rec.PastDueDays)
		out.Records = append(out.Records, rec)
	}

	return out, nil
}

func indexColumns(header []string, schema Schema) (map[Field]int, error) {
	exact := make(map[string]int, len(header))
	folded := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := exact[h]; !dup {
			exact[h] = i
		}
		if _, dup := folded[strings.ToLower(h)]; !dup {
			folded[strings.ToLower(h)] = i
		}
	}

	index := make(map[Field]int, len(schema.Columns))
	var missing []string
	for _, col := range schema.Columns {
		if i, ok := exact[col.Source]; ok {
			index[col.Field] = i
			continue
		}
		if i, ok := folded[strings.ToLower(col.Source)]; ok {
			index[col.Field] = i
			continue
		}
		if !col.Optional {
			missing = append(missing, col.Source)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnError{Report: string(schema.Report), Columns: missing}
	}
	return index, nil
}

// setCell stores one coerced cell on rec. It returns false with a partially
// filled rejection when the cell is required but blank or fails coercion.
func setCell(rec *Record, col Column, cell any, layouts []string) (Rejection, bool) {
	rej := Rejection{Column: col.Source, Field: col.Field, Value: cellString(cell)}

	if isBlank(cell) {
		if col.Required {
			rej.Reason = "blank"
			return rej, false
		}
		return rej, true
	}

	switch col.Kind {
	case KindDate:
		d, ok := parseDate(cell, layouts)
		if !ok {
			rej.Reason = "unparseable date"
			return rej, false
		}
		switch col.Field {
		case FieldDate:
			rec.Date = d
		case FieldDueDate:
			rec.DueDate = &d
		default:
			rec.Dates[col.Field] = d
		}
	case KindMoney:
		m, ok := parseMoney(cell)
		if !ok {
			rej.Reason = "non-numeric amount"
			return rej, false
		}
		nd := decimal.NullDecimal{Decimal: m, Valid: true}
		switch col.Field {
		case FieldAmount:
			rec.Amount = nd
		case FieldOpenBalance:
			rec.OpenBalance = nd
		default:
			rec.Measures[col.Field] = nd
		}
	case KindInt:
		n, ok := parseInt(cell)
		if !ok {
			rej.Reason = "non-integer value"
			return rej, false
		}
		if col.Field == FieldPastDue {
			rec.PastDueDays = &n
		} else {
			rec.Measures[col.Field] = decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(n)), Valid: true}
		}
	default:
		s := cellString(cell)
		if col.Field == FieldCategory {
			rec.Category = s
		} else {
			rec.Text[col.Field] = s
		}
	}
	return rej, true
}

func applyTransforms(rec *Record, schema Schema, enums *EnumValidator, caser cases.Caser) {
	if schema.SplitField != "" {
		if v, ok := rec.Text[schema.SplitField]; ok {
			head, tail, found := strings.Cut(v, ":")
			rec.Text[schema.SplitField] = strings.TrimSpace(head)
			if found && schema.SplitInto != "" {
				rec.Text[schema.SplitInto] = strings.TrimSpace(tail)
			}
		}
	}

	for _, f := range schema.TitleCaseFields {
		if v, ok := rec.Text[f]; ok {
			rec.Text[f] = caser.String(v)
		}
	}

	for f, def := range schema.Defaults {
		if _, ok := rec.Text[f]; !ok {
			rec.Text[f] = def
		}
	}

	for f, marker := range schema.YesNo {
		if strings.EqualFold(strings.TrimSpace(rec.Text[f]), marker) {
			rec.Text[f] = "Yes"
		} else {
			rec.Text[f] = "No"
		}
	}

	for f := range schema.Enums {
		if f == FieldCategory {
			rec.Category, _ = enums.Canonical(f, rec.Category)
			continue
		}
		if v, ok := rec.Text[f]; ok {
			rec.Text[f], _ = enums.Canonical(f, v)
		}
	}

	if schema.CategoryField != "" && schema.CategoryField != FieldCategory {
		rec.Category = rec.Text[schema.CategoryField]
	}
}

// keep applies the schema's row rules.
func keep(rec Record, schema Schema) bool {
	if schema.OutstandingField != "" {
		m := rec.Money(schema.OutstandingField)
		if !m.Valid || m.Decimal.IsZero() {
			return false
		}
		if schema.OutstandingPositive && m.Decimal.IsNegative() {
			return false
		}
	}
	if !schema.MinDate.IsZero() && rec.Date.Before(schema.MinDate) {
		return false
	}
	for f, values := range schema.Exclude {
		v := strings.TrimSpace(rec.Value(f))
		for _, x := range values {
			if strings.EqualFold(v, x) {
				return false
			}
		}
	}
	return true
}

func blankRow(row []any) bool {
	for _, c := range row {
		if !isBlank(c) {
			return false
		}
	}
	return true
}

func isBlank(cell any) bool {
	switch v := cell.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case float64:
		return math.IsNaN(v)
	}
	return false
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return DisplayDate(civil.DateOf(v))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func parseDate(cell any, layouts []string) (civil.Date, bool) {
	switch v := cell.(type) {
	case time.Time:
		return civil.DateOf(v), true
	case float64:
		return excelSerialDate(v)
	case int:
		return excelSerialDate(float64(v))
	case int64:
		return excelSerialDate(float64(v))
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return civil.DateOf(t), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return excelSerialDate(f)
		}
	}
	return civil.Date{}, false
}

func excelSerialDate(serial float64) (civil.Date, bool) {
	if math.IsNaN(serial) || serial < minExcelSerial || serial > maxExcelSerial {
		return civil.Date{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return civil.Date{}, false
	}
	return civil.DateOf(t), true
}

var moneyReplacer = strings.NewReplacer(
	"R$", "",
	"US$", "",
	"$", "",
	"€", "",
	"£", "",
	",", "",
	" ", "",
	"\u00a0", "",
)

func parseMoney(cell any) (decimal.Decimal, bool) {
	switch v := cell.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		s := moneyReplacer.Replace(strings.TrimSpace(v))
		negative := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			negative = true
			s = s[1 : len(s)-1]
		}
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false
		}
		if negative {
			d = d.Neg()
		}
		return d, true
	}
	return decimal.Decimal{}, false
}

func parseInt(cell any) (int, bool) {
	switch v := cell.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if math.IsNaN(v) || v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}
