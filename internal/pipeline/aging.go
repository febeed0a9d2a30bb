package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// Segment is an aging bucket for a past-due day count.
type Segment int

const (
	SegmentCurrent Segment = iota
	Segment1To30
	Segment31To60
	Segment61To90
	Segment91To120
	Segment121Plus
)

// segmentRanges is evaluated in order. Each entry covers (previous max, max],
// the first one starts at math.MinInt and the last one ends at math.MaxInt,
// so the table partitions every int.
var segmentRanges = []struct {
	segment Segment
	max     int
	label   string
}{
	{SegmentCurrent, 0, "Current"},
	{Segment1To30, 30, "1-30"},
	{Segment31To60, 60, "31-60"},
	{Segment61To90, 90, "61-90"},
	{Segment91To120, 120, "91-120"},
	{Segment121Plus, math.MaxInt, "121+"},
}

// Segments returns every bucket in ascending order.
func Segments() []Segment {
	out := make([]Segment, len(segmentRanges))
	for i, r := range segmentRanges {
		out[i] = r.segment
	}
	return out
}

// Classify maps a past-due day count onto its bucket. Zero and negative
// counts are Current.
func Classify(pastDueDays int) Segment {
	for _, r := range segmentRanges {
		if pastDueDays <= r.max {
			return r.segment
		}
	}
	// unreachable: the last range ends at math.MaxInt
	return Segment121Plus
}

// ClassifyDays is Classify for a nullable count. A nil count stays
// unclassified.
func ClassifyDays(pastDueDays *int) *Segment {
	if pastDueDays == nil {
		return nil
	}
	s := Classify(*pastDueDays)
	return &s
}

// String returns the label used by the source sheets, e.g. "31-60".
func (s Segment) String() string {
	if s < 0 || int(s) >= len(segmentRanges) {
		return fmt.Sprintf("Segment(%d)", int(s))
	}
	return segmentRanges[s].label
}

// ParseSegment accepts a bucket label, case-insensitively.
func ParseSegment(label string) (Segment, error) {
	l := strings.TrimSpace(label)
	for _, r := range segmentRanges {
		if strings.EqualFold(l, r.label) {
			return r.segment, nil
		}
	}
	return 0, fmt.Errorf("ParseSegment: unknown aging segment %q", label)
}

// MarshalText implements encoding.TextMarshaler so segments render as labels
// in JSON payloads and cache entries.
func (s Segment) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Segment) UnmarshalText(b []byte) error {
	seg, err := ParseSegment(string(b))
	if err != nil {
		return err
	}
	*s = seg
	return nil
}
