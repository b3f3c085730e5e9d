package teamsync

import (
	"fmt"
	"strings"
)

// Supported filter operators.
const (
	OpEq  = "=="
	OpNe  = "!="
	OpLt  = "<"
	OpLte = "<="
	OpGt  = ">"
	OpGte = ">="
)

// Filter is a single equality or comparison constraint on a top-level field.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Where builds a filter.
func Where(field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Validate checks the filter against the allow-list of operators.
func (f Filter) Validate() error {
	if strings.TrimSpace(f.Field) == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidFilter)
	}
	switch f.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return nil
	}
	return fmt.Errorf("%w: unsupported operator %q on %s", ErrInvalidFilter, f.Op, f.Field)
}

// Match reports whether the record satisfies the filter. A missing field
// never matches, except under != against a non-nil value.
func (f Filter) Match(rec Fields) bool {
	v, ok := rec[f.Field]
	if !ok {
		return f.Op == OpNe && f.Value != nil
	}
	cmp, ok := compareValues(v, f.Value)
	if !ok {
		return f.Op == OpNe
	}
	switch f.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

// ValidateFilters validates every filter in the list.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MatchAll reports whether rec satisfies every filter.
func MatchAll(filters []Filter, rec Fields) bool {
	for _, f := range filters {
		if !f.Match(rec) {
			return false
		}
	}
	return true
}

// compareValues orders two scalar values. Numbers compare numerically,
// timestamps chronologically, strings lexically and booleans only for
// equality (false < true). The second result is false when the values
// are not comparable.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		}
		return 1, true
	}
	// Either side may be a time.Time while the other is its RFC 3339 form.
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}
