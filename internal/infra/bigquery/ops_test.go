package bigquery

import (
	"errors"
	"strings"
	"testing"
)

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLen int
	}{
		{"nil error", nil, 0},
		{"short error", errors.New("source unavailable"), len("source unavailable")},
		{"long error", errors.New(strings.Repeat("x", 5000)), maxErrorLen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateError(tt.err); len(got) != tt.wantLen {
				t.Errorf("len(truncateError()) = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}
