package changefeed

import (
	"fmt"
	"strings"
)

// Filter is a declarative predicate: table and operation, an optional column equality,
// and an optional requirement that a column changed in an update.
type Filter struct {
	Table     string    `json:"table" validate:"required"`
	Operation Operation `json:"operation,omitempty"`
	Column    string    `json:"column,omitempty"`
	Value     any       `json:"value,omitempty"`
	Changed   string    `json:"changed,omitempty"`
}

// Normalize trims the filter and fills the operation default.
func (f Filter) Normalize() (Filter, error) {
	f.Table = strings.TrimSpace(f.Table)
	if f.Table == "" {
		return Filter{}, fmt.Errorf("changefeed: filter table is required")
	}
	op, err := ParseOperation(string(f.Operation))
	if err != nil {
		return Filter{}, err
	}
	f.Operation = op
	f.Column = strings.TrimSpace(f.Column)
	f.Changed = strings.TrimSpace(f.Changed)
	f.Value = normalizeValue(f.Value)
	if f.Column == "" && f.Value != nil {
		return Filter{}, fmt.Errorf("changefeed: filter value without column")
	}
	return f, nil
}

// Matches evaluates the predicate against evt.
func (f Filter) Matches(evt Event) bool {
	if f.Table != evt.Table {
		return false
	}
	if f.Operation != "" && f.Operation != OpAny && f.Operation != evt.Operation {
		return false
	}
	if f.Column != "" {
		value, ok := evt.Row()[f.Column]
		if !ok || !sameValue(value, f.Value) {
			return false
		}
	}
	if f.Changed != "" && !evt.Changed(f.Changed) {
		return false
	}
	return true
}

// Equals builds a filter for table rows whose column equals value.
func Equals(table string, op Operation, column string, value any) Filter {
	return Filter{Table: table, Operation: op, Column: column, Value: value}
}

func (f Filter) String() string {
	var b strings.Builder
	b.WriteString(f.Table)
	b.WriteByte(':')
	b.WriteString(string(f.Operation))
	if f.Column != "" {
		fmt.Fprintf(&b, " %s=%v", f.Column, f.Value)
	}
	if f.Changed != "" {
		fmt.Fprintf(&b, " changed(%s)", f.Changed)
	}
	return b.String()
}
