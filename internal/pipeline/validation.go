package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// EnumValidator checks categorical values against the known spellings of a
// schema and rewrites matches to the canonical form.
type EnumValidator struct {
	values map[Field]map[string]string // field -> normalized -> canonical
}

// NewEnumValidator builds a validator from a schema's enum table.
func NewEnumValidator(enums map[Field][]string) *EnumValidator {
	v := &EnumValidator{values: make(map[Field]map[string]string, len(enums))}
	for f, known := range enums {
		m := make(map[string]string, len(known))
		for _, k := range known {
			m[normalizeEnum(k)] = k
		}
		v.values[f] = m
	}
	return v
}

// Canonical returns the canonical spelling of value. Fields without an
// enum table accept anything and return the trimmed value.
func (v *EnumValidator) Canonical(f Field, value string) (string, bool) {
	known, ok := v.values[f]
	if !ok {
		return strings.TrimSpace(value), true
	}
	c, ok := known[normalizeEnum(value)]
	if !ok {
		return strings.TrimSpace(value), false
	}
	return c, true
}

// Validate returns an error listing the accepted values when value is not
// one of them.
func (v *EnumValidator) Validate(f Field, value string) error {
	if _, ok := v.Canonical(f, value); ok {
		return nil
	}
	valid := make([]string, 0, len(v.values[f]))
	for _, c := range v.values[f] {
		valid = append(valid, c)
	}
	sort.Strings(valid)
	return fmt.Errorf("invalid %s %q. Valid values: %v", f, value, valid)
}

// normalizeEnum converts to uppercase and trims whitespace for
// case-insensitive comparison.
func normalizeEnum(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
