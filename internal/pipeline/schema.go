package pipeline

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
)

// ReportType identifies a canonical schema.
type ReportType string

const (
	ReportAccounting  ReportType = "accounting"
	ReportARAging     ReportType = "ar_aging"
	ReportAPAging     ReportType = "ap_aging"
	ReportDaysSales   ReportType = "days_sales"
	ReportDaysPayable ReportType = "days_payable"
	ReportPermits     ReportType = "permits"
	ReportTimesheet   ReportType = "timesheet"
	ReportProfitLoss  ReportType = "profit_loss"
)

// Kind is the type a column is coerced to.
type Kind int

const (
	KindText Kind = iota
	KindDate
	KindMoney
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindMoney:
		return "money"
	case KindInt:
		return "int"
	default:
		return "text"
	}
}

// Column maps one raw header onto a canonical field.
type Column struct {
	Source string
	Field  Field
	Kind   Kind

	// Required rows are dropped when this cell is blank or fails coercion.
	Required bool

	// Optional columns may be absent from the header.
	Optional bool
}

// US layouts are tried by default. A schema for a day-first locale sets
// DateLayouts to dayFirstLayouts.
var (
	usLayouts = []string{
		"01/02/2006",
		"1/2/2006",
		"01/02/2006 15:04:05",
		"1/2/2006 15:04:05",
		"01-02-2006",
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"Jan 2, 2006",
	}

	dayFirstLayouts = []string{
		"02/01/2006",
		"2/1/2006",
		"02/01/2006 15:04:05",
		"2/1/2006 15:04:05",
		"02-01-2006",
		"02.01.2006",
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
	}
)

// Duration derives a whole-day measure from dates already on a record.
// Records for which Days is undefined leave the field null.
type Duration struct {
	Field Field
	Label string
	Days  func(Record) (int, bool)
}

// Schema is the canonical layout of one report type: which raw headers are
// expected, how each is coerced and which rows survive normalization.
type Schema struct {
	Report  ReportType
	Title   string
	Columns []Column

	// DateLayouts defaults to the US layouts.
	DateLayouts []string

	// SkipRows is the number of banner rows above the header in the source
	// export. The loader applies it.
	SkipRows int

	// OutstandingField drops rows whose value is null or zero. With
	// OutstandingPositive it also drops negative values.
	OutstandingField    Field
	OutstandingPositive bool

	// MinDate drops rows dated before it. The zero value disables it.
	MinDate civil.Date

	// CategoryField is copied into Record.Category and is what category
	// criteria test against.
	CategoryField Field

	// TextSearchField is matched by the free-text criterion.
	TextSearchField Field

	// Enums rewrite known categorical values to their canonical spelling.
	Enums map[Field][]string

	// Exclude drops rows whose field equals one of the listed values.
	Exclude map[Field][]string

	// SplitField is split on the first ":" into itself and SplitInto,
	// before title-casing.
	SplitField Field
	SplitInto  Field

	TitleCaseFields []Field

	// Defaults fill blank text cells.
	Defaults map[Field]string

	// YesNo rewrites a field to "Yes" when it equals the given marker and
	// to "No" otherwise.
	YesNo map[Field]string

	// SumFields are the monetary fields reports total by default.
	SumFields []Field

	// Durations are appended to every record after the row rules run.
	Durations []Duration

	// CountField is counted per value of its enum for status counters.
	CountField Field
}

func (s Schema) layouts() []string {
	if len(s.DateLayouts) == 0 {
		return usLayouts
	}
	return s.DateLayouts
}

// Column returns the mapping for f.
func (s Schema) Column(f Field) (Column, bool) {
	for _, c := range s.Columns {
		if c.Field == f {
			return c, true
		}
	}
	return Column{}, false
}

// Fields returns the canonical fields in column order, plus derived ones.
func (s Schema) Fields() []Field {
	out := make([]Field, 0, len(s.Columns)+2)
	seen := make(map[Field]bool)
	for _, c := range s.Columns {
		if !seen[c.Field] {
			seen[c.Field] = true
			out = append(out, c.Field)
		}
	}
	if s.SplitInto != "" && !seen[s.SplitInto] {
		out = append(out, s.SplitInto)
		seen[s.SplitInto] = true
	}
	if _, ok := s.Column(FieldPastDue); ok && !seen[FieldAgingInterval] {
		out = append(out, FieldAgingInterval)
	}
	for _, d := range s.Durations {
		if !seen[d.Field] {
			seen[d.Field] = true
			out = append(out, d.Field)
		}
	}
	return out
}

// Label is the display name of f: its source header, a duration label or
// the field name itself.
func (s Schema) Label(f Field) string {
	if c, ok := s.Column(f); ok && c.Source != "" {
		return c.Source
	}
	for _, d := range s.Durations {
		if d.Field == f && d.Label != "" {
			return d.Label
		}
	}
	return string(f)
}

// BalanceField is the monetary field that measures what is still owed.
func (s Schema) BalanceField() Field {
	if s.OutstandingField != "" {
		return s.OutstandingField
	}
	if _, ok := s.Column(FieldOpenBalance); ok {
		return FieldOpenBalance
	}
	return FieldAmount
}

// HasBalance reports whether records carry an open balance to chart.
func (s Schema) HasBalance() bool {
	_, ok := s.Column(FieldOpenBalance)
	return ok
}

var agingCutoff = civil.Date{Year: 2023, Month: 1, Day: 1}

var daysTaken = Duration{Field: FieldDaysTaken, Label: "Days Taken", Days: DaysTaken}

var schemas = map[ReportType]Schema{
	ReportAccounting: {
		Report: ReportAccounting,
		Title:  "Accounting indicators",
		Columns: []Column{
			{Source: "Date", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "Inv Date", Field: FieldInvoiceDate, Kind: KindDate, Optional: true},
			{Source: "Transaction type", Field: FieldTransactionType, Kind: KindText},
			{Source: "INV Num", Field: FieldNumber, Kind: KindText, Optional: true},
			{Source: "Customer full name", Field: FieldCustomer, Kind: KindText},
			{Source: "Due date", Field: FieldDueDate, Kind: KindDate, Optional: true},
			{Source: "INV Amount", Field: FieldAmount, Kind: KindMoney, Optional: true},
			{Source: "Open balance", Field: FieldOpenBalance, Kind: KindMoney},
			{Source: "EPO Number", Field: FieldEPONumber, Kind: KindText, Optional: true},
			{Source: "Category", Field: FieldCategory, Kind: KindText},
			{Source: "Aging days", Field: FieldPastDue, Kind: KindInt, Optional: true},
			{Source: "Aging Intervals", Field: FieldAgingInterval, Kind: KindText},
		},
		CategoryField:   FieldCategory,
		TextSearchField: FieldCustomer,
		SumFields:       []Field{FieldOpenBalance},
	},
	ReportARAging: {
		Report:   ReportARAging,
		Title:    "Accounts receivable aging",
		SkipRows: 3,
		Columns: []Column{
			{Source: "Date", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "Due Date", Field: FieldDueDate, Kind: KindDate},
			{Source: "Past Due", Field: FieldPastDue, Kind: KindInt},
			{Source: "Transaction Type", Field: FieldTransactionType, Kind: KindText, Required: true},
			{Source: "Num", Field: FieldNumber, Kind: KindText},
			{Source: "Customer", Field: FieldCustomer, Kind: KindText},
			{Source: "Email", Field: FieldEmail, Kind: KindText, Optional: true},
			{Source: "Terms", Field: FieldTerms, Kind: KindText, Optional: true},
			{Source: "Billing Address", Field: FieldBillingAddress, Kind: KindText, Optional: true},
			{Source: "Amount", Field: FieldAmount, Kind: KindMoney},
			{Source: "Open Balance", Field: FieldOpenBalance, Kind: KindMoney, Optional: true},
			{Source: "Sent", Field: FieldSent, Kind: KindText, Optional: true},
		},
		OutstandingField:    FieldAmount,
		OutstandingPositive: true,
		MinDate:             agingCutoff,
		CategoryField:       FieldTransactionType,
		TextSearchField:     FieldCustomer,
		SplitField:          FieldCustomer,
		SplitInto:           FieldDescription,
		TitleCaseFields:     []Field{FieldCustomer, FieldDescription},
		Defaults:            map[Field]string{FieldBillingAddress: "(No Billing Address)"},
		YesNo:               map[Field]string{FieldSent: "Sent"},
		SumFields:           []Field{FieldAmount, FieldOpenBalance},
	},
	ReportAPAging: {
		Report:   ReportAPAging,
		Title:    "Accounts payable aging",
		SkipRows: 3,
		Columns: []Column{
			{Source: "Date", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "Due Date", Field: FieldDueDate, Kind: KindDate},
			{Source: "Past Due", Field: FieldPastDue, Kind: KindInt},
			{Source: "Transaction Type", Field: FieldTransactionType, Kind: KindText},
			{Source: "Num", Field: FieldNumber, Kind: KindText},
			{Source: "Vendor", Field: FieldVendor, Kind: KindText},
			{Source: "Terms", Field: FieldTerms, Kind: KindText, Optional: true},
			{Source: "Amount", Field: FieldAmount, Kind: KindMoney},
			{Source: "Open Balance", Field: FieldOpenBalance, Kind: KindMoney},
		},
		OutstandingField: FieldOpenBalance,
		MinDate:          agingCutoff,
		CategoryField:    FieldTransactionType,
		TextSearchField:  FieldVendor,
		SumFields:        []Field{FieldAmount, FieldOpenBalance},
	},
	ReportDaysSales: {
		Report:   ReportDaysSales,
		Title:    "Days sales outstanding",
		SkipRows: 3,
		Columns: []Column{
			{Source: "Date", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "Due date", Field: FieldDueDate, Kind: KindDate, Optional: true},
			{Source: "Paid date", Field: FieldPaidDate, Kind: KindDate, Required: true},
			{Source: "Customer", Field: FieldCustomer, Kind: KindText},
			{Source: "Amount", Field: FieldAmount, Kind: KindMoney},
		},
		TextSearchField: FieldCustomer,
		SumFields:       []Field{FieldAmount},
		Durations:       []Duration{daysTaken},
	},
	ReportDaysPayable: {
		Report:   ReportDaysPayable,
		Title:    "Days payable outstanding",
		SkipRows: 3,
		Columns: []Column{
			{Source: "Date", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "Paid date", Field: FieldPaidDate, Kind: KindDate, Required: true},
			{Source: "Vendor name", Field: FieldVendor, Kind: KindText},
			{Source: "Split account", Field: FieldSplitAccount, Kind: KindText},
			{Source: "Amount line", Field: FieldAmount, Kind: KindMoney},
		},
		OutstandingField: FieldAmount,
		CategoryField:    FieldSplitAccount,
		TextSearchField:  FieldVendor,
		Exclude:          map[Field][]string{FieldSplitAccount: {"Accounts Payable (A/P)"}},
		SumFields:        []Field{FieldAmount},
		Durations:        []Duration{daysTaken},
	},
	ReportPermits: {
		Report: ReportPermits,
		Title:  "Permit control",
		Columns: []Column{
			{Source: "MODEL", Field: FieldModel, Kind: KindText},
			{Source: "JOBSITE", Field: FieldJobsite, Kind: KindText},
			{Source: "LOT/ADDRESS", Field: FieldLotAddress, Kind: KindText},
			{Source: "SITUAÇÃO", Field: FieldSituation, Kind: KindText},
			{Source: "SOLICITAÇÃO", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "APLICAÇÃO", Field: FieldApplicationDate, Kind: KindDate},
			{Source: "EMISSÃO", Field: FieldIssueDate, Kind: KindDate},
			{Source: "OBSERVAÇÃO", Field: FieldObservation, Kind: KindText, Optional: true},
			{Source: "ARQUIVO", Field: FieldPermitFile, Kind: KindText, Optional: true},
		},
		CategoryField:   FieldSituation,
		TextSearchField: FieldLotAddress,
		Enums: map[Field][]string{
			FieldSituation: {SituationNotApplied, SituationApplied, SituationIssued},
		},
		Durations:  []Duration{{Field: FieldProcessingDays, Label: "Processing Time", Days: ProcessingDays}},
		CountField: FieldSituation,
	},
	ReportTimesheet: {
		Report: ReportTimesheet,
		Title:  "Timesheet analysis",
		Columns: []Column{
			{Source: "Date", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "Nome", Field: FieldName, Kind: KindText},
			{Source: "Error", Field: FieldError, Kind: KindText},
			{Source: "Team", Field: FieldTeam, Kind: KindText},
			{Source: "Corporation", Field: FieldCorporation, Kind: KindText},
			{Source: "Payrate", Field: FieldPayrate, Kind: KindMoney, Optional: true},
			{Source: "Add time/hour", Field: FieldAddHours, Kind: KindMoney, Optional: true},
			{Source: "Remove time/hour", Field: FieldRemoveHours, Kind: KindMoney, Optional: true},
			{Source: "ADD $", Field: FieldAddValue, Kind: KindMoney},
			{Source: "REMOVE $", Field: FieldRemoveValue, Kind: KindMoney},
			{Source: "TOTAL", Field: FieldTotal, Kind: KindMoney, Optional: true},
		},
		CategoryField:   FieldError,
		TextSearchField: FieldName,
		SumFields:       []Field{FieldAddValue, FieldRemoveValue, FieldTotal},
	},
	// Profit and loss exports are reshaped by TreatProfitAndLoss first; this
	// schema reads the PLTable layout. SkipRows applies to each monthly
	// export, which opens with company, title and period rows.
	ReportProfitLoss: {
		Report:   ReportProfitLoss,
		Title:    "Profit and loss",
		SkipRows: 3,
		Columns: []Column{
			{Source: "Period", Field: FieldDate, Kind: KindDate, Required: true},
			{Source: "Category", Field: FieldCategory, Kind: KindText},
			{Source: "Detail", Field: FieldDetail, Kind: KindText},
			{Source: "Total", Field: FieldTotal, Kind: KindMoney, Optional: true},
			{Source: "Total Real", Field: FieldAmount, Kind: KindMoney, Required: true},
		},
		CategoryField:   FieldCategory,
		TextSearchField: FieldDetail,
		Enums:           map[Field][]string{FieldCategory: {PLIncome, PLCOGS, PLExpenses}},
		SumFields:       []Field{FieldAmount},
	},
}

// Permit situations.
const (
	SituationNotApplied = "Not Applied"
	SituationApplied    = "Applied"
	SituationIssued     = "Issued"
)

// LookupSchema returns the built-in schema for report.
func LookupSchema(report ReportType) (Schema, error) {
	s, ok := schemas[report]
	if !ok {
		return Schema{}, fmt.Errorf("LookupSchema: %q: %w", report, ErrUnknownReport)
	}
	return s, nil
}

// ReportTypes lists the built-in report types in name order.
func ReportTypes() []ReportType {
	out := make([]ReportType, 0, len(schemas))
	for r := range schemas {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
