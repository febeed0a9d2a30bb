package pipeline

import (
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DisplayDateLayout is the MM/DD/YYYY format every rendered date uses.
const DisplayDateLayout = "01/02/2006"

// Field is a canonical field identifier. Raw spreadsheet headers are mapped
// onto Fields by a Schema and never referenced past the Normalizer.
type Field string

// Core fields every report type maps onto Record's typed attributes.
const (
	FieldDate        Field = "date"
	FieldDueDate     Field = "due_date"
	FieldAmount      Field = "amount"
	FieldOpenBalance Field = "open_balance"
	FieldPastDue     Field = "past_due_days"
	FieldCategory    Field = "category"
)

// Descriptive and auxiliary fields.
const (
	FieldCustomer        Field = "customer"
	FieldVendor          Field = "vendor"
	FieldDescription     Field = "description"
	FieldNumber          Field = "number"
	FieldTerms           Field = "terms"
	FieldEmail           Field = "email"
	FieldBillingAddress  Field = "billing_address"
	FieldSent            Field = "sent"
	FieldEPONumber       Field = "epo_number"
	FieldAgingInterval   Field = "aging_interval"
	FieldTransactionType Field = "transaction_type"
	FieldSplitAccount    Field = "split_account"
	FieldInvoiceDate     Field = "invoice_date"
	FieldAgingDays       Field = "aging_days"
	FieldPaidDate        Field = "paid_date"

	FieldModel           Field = "model"
	FieldJobsite         Field = "jobsite"
	FieldLotAddress      Field = "lot_address"
	FieldSituation       Field = "situation"
	FieldApplicationDate Field = "application_date"
	FieldIssueDate       Field = "issue_date"
	FieldObservation     Field = "observation"
	FieldPermitFile      Field = "permit_file"

	FieldName        Field = "name"
	FieldError       Field = "error"
	FieldTeam        Field = "team"
	FieldCorporation Field = "corporation"
	FieldPayrate     Field = "payrate"
	FieldAddHours    Field = "add_hours"
	FieldRemoveHours Field = "remove_hours"
	FieldAddValue    Field = "add_value"
	FieldRemoveValue Field = "remove_value"
	FieldTotal       Field = "total"

	FieldDetail Field = "detail"

	FieldDaysTaken      Field = "days_taken"
	FieldProcessingDays Field = "processing_days"
)

// dayCounts are measures rendered as whole days.
var dayCounts = map[Field]bool{FieldDaysTaken: true, FieldProcessingDays: true}

// Record is one normalized row. Records are built fresh on every run and
// carry no identity beyond their position in the output.
type Record struct {
	Row int // zero-based data row index in the source table

	Date        civil.Date
	DueDate     *civil.Date
	Amount      decimal.NullDecimal
	OpenBalance decimal.NullDecimal
	PastDueDays *int
	Category    string

	Text     map[Field]string
	Dates    map[Field]civil.Date
	Measures map[Field]decimal.NullDecimal

	// Derived fields.
	Year    int
	Month   int
	Segment *Segment
}

// Value returns the display string for f, or "" when the field is null.
func (r Record) Value(f Field) string {
	switch f {
	case FieldDate:
		return DisplayDate(r.Date)
	case FieldDueDate:
		if r.DueDate == nil {
			return ""
		}
		return DisplayDate(*r.DueDate)
	case FieldAmount:
		return formatNullDecimal(r.Amount)
	case FieldOpenBalance:
		return formatNullDecimal(r.OpenBalance)
	case FieldPastDue:
		if r.PastDueDays == nil {
			return ""
		}
		return strconv.Itoa(*r.PastDueDays)
	case FieldCategory:
		return r.Category
	case FieldAgingInterval:
		// Sheets that carry their own interval column win over the derived one.
		if v, ok := r.Text[f]; ok {
			return v
		}
		if r.Segment != nil {
			return r.Segment.String()
		}
		return ""
	}
	if v, ok := r.Text[f]; ok {
		return v
	}
	if d, ok := r.Dates[f]; ok {
		return DisplayDate(d)
	}
	if m, ok := r.Measures[f]; ok {
		if dayCounts[f] && m.Valid {
			return m.Decimal.String()
		}
		return formatNullDecimal(m)
	}
	return ""
}

// Money returns the numeric value of f. Nulls come back with Valid=false.
func (r Record) Money(f Field) decimal.NullDecimal {
	switch f {
	case FieldAmount:
		return r.Amount
	case FieldOpenBalance:
		return r.OpenBalance
	case FieldPastDue:
		if r.PastDueDays == nil {
			return decimal.NullDecimal{}
		}
		return decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(*r.PastDueDays)), Valid: true}
	}
	return r.Measures[f]
}

// OptionalDate returns the date stored under f, if any.
func (r Record) OptionalDate(f Field) (civil.Date, bool) {
	switch f {
	case FieldDate:
		return r.Date, true
	case FieldDueDate:
		if r.DueDate == nil {
			return civil.Date{}, false
		}
		return *r.DueDate, true
	}
	d, ok := r.Dates[f]
	return d, ok
}

// DisplayDate renders d as MM/DD/YYYY.
func DisplayDate(d civil.Date) string {
	if !d.IsValid() {
		return ""
	}
	return d.In(time.UTC).Format(DisplayDateLayout)
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
