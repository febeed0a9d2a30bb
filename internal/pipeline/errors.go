package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoData is returned when the source table has no data rows.
	ErrNoData = errors.New("no data found")

	// ErrMissingColumn matches every *MissingColumnError.
	ErrMissingColumn = errors.New("required column missing")

	// ErrInvalidCriteria is returned for a malformed filter bound.
	ErrInvalidCriteria = errors.New("invalid criteria")

	// ErrUnknownReport is returned when no schema is registered for a report type.
	ErrUnknownReport = errors.New("unknown report type")
)

// MissingColumnError lists the expected columns absent from a table header.
type MissingColumnError struct {
	Report  string
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Report, ErrMissingColumn.Error(), strings.Join(e.Columns, ", "))
}

// Is reports whether target is ErrMissingColumn.
func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

// Rejection describes a cell that failed type coercion. When the field is
// required the whole row was dropped; otherwise the field was nulled.
type Rejection struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Field   Field  `json:"field"`
	Value   string `json:"value"`
	Reason  string `json:"reason"`
	Dropped bool   `json:"dropped"`
}

func (r Rejection) String() string {
	action := "nulled"
	if r.Dropped {
		action = "row dropped"
	}
	return fmt.Sprintf("row %d: %s %q: %s (%s)", r.Row, r.Column, r.Value, r.Reason, action)
}
