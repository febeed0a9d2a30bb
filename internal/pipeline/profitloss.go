package pipeline

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// P&L sections kept from a statement export.
const (
	PLIncome   = "Income"
	PLCOGS     = "Cost of Goods Sold"
	PLExpenses = "Expenses"
)

var plSections = map[string]bool{PLIncome: true, PLCOGS: true, PLExpenses: true}

// plSummaryRows are subtotal lines repeated by the export.
var plSummaryRows = map[string]bool{
	"Net Income":               true,
	"Net Operating Income":     true,
	"Net Other Income":         true,
	"Total Contractors":        true,
	"Total Cost of Goods Sold": true,
	"Total Expenses":           true,
	"Total Income":             true,
	"Total Insurance":          true,
	"Total Job Supplies":       true,
	"Total Labor":              true,
	"Total Other Expenses":     true,
	"Total Panels Premium":     true,
	"Total Taxes & Licenses":   true,
	"Total Vehicles Expenses":  true,
	"Gross Profit":             true,
}

// PLLine is one detail line of a monthly profit and loss statement.
type PLLine struct {
	Period   civil.Date
	Category string
	Detail   string
	Total    decimal.Decimal

	// TotalReal is negative for costs and expenses.
	TotalReal decimal.Decimal
}

// TreatProfitAndLoss reshapes a monthly P&L export. The first column holds
// the line label; rows without a Total are section headers and apply to
// the lines below them. Only income, cost of goods sold and expense
// sections are kept, and subtotal lines are removed.
func TreatProfitAndLoss(table Table, period civil.Date) ([]PLLine, error) {
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("TreatProfitAndLoss: %w", ErrNoData)
	}
	totalIdx := -1
	for i, h := range table.Header {
		if strings.EqualFold(strings.TrimSpace(h), "Total") {
			totalIdx = i
			break
		}
	}
	if totalIdx <= 0 {
		return nil, &MissingColumnError{Report: string(ReportProfitLoss), Columns: []string{"Total"}}
	}

	var (
		lines   []PLLine
		section string
	)
	for _, row := range table.Rows {
		if len(row) == 0 {
			continue
		}
		detail := cellString(row[0])
		var total any
		if totalIdx < len(row) {
			total = row[totalIdx]
		}

		if isBlank(total) {
			if plSections[detail] {
				section = detail
			}
			continue
		}
		if section == "" || plSummaryRows[detail] {
			continue
		}
		amount, ok := parseMoney(total)
		if !ok {
			continue
		}
		signed := amount
		if section == PLCOGS || section == PLExpenses {
			signed = amount.Neg()
		}
		lines = append(lines, PLLine{
			Period:    period,
			Category:  section,
			Detail:    detail,
			Total:     amount,
			TotalReal: signed,
		})
	}
	return lines, nil
}

// PLPeriodFromName parses a monthly statement name such as "PL_03-24" or
// "PL_03-24.xlsx" into the first day of that month. A non-zero year
// overrides the two-digit year in the name.
func PLPeriodFromName(name string, year int) (civil.Date, error) {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	_, rest, ok := strings.Cut(base, "_")
	if !ok {
		return civil.Date{}, fmt.Errorf("PLPeriodFromName: %q: missing \"_\"", name)
	}
	mm, yy, ok := strings.Cut(rest, "-")
	if !ok {
		return civil.Date{}, fmt.Errorf("PLPeriodFromName: %q: missing \"-\"", name)
	}
	month, err := strconv.Atoi(strings.TrimSpace(mm))
	if err != nil || month < 1 || month > 12 {
		return civil.Date{}, fmt.Errorf("PLPeriodFromName: %q: invalid month %q", name, mm)
	}
	if year == 0 {
		y, err := strconv.Atoi(strings.TrimSpace(yy))
		if err != nil {
			return civil.Date{}, fmt.Errorf("PLPeriodFromName: %q: invalid year %q", name, yy)
		}
		if y < 100 {
			y += 2000
		}
		year = y
	}
	return civil.Date{Year: year, Month: time.Month(month), Day: 1}, nil
}

// PLTable lays lines out in the profit_loss schema so they can go through
// Normalize and the rest of the pipeline like any other report.
func PLTable(lines []PLLine) Table {
	t := Table{
		Header: []string{"Period", "Category", "Detail", "Total", "Total Real"},
		Rows:   make([][]any, len(lines)),
	}
	for i, l := range lines {
		t.Rows[i] = []any{
			l.Period.String(),
			l.Category,
			l.Detail,
			l.Total.String(),
			l.TotalReal.String(),
		}
	}
	return t
}
