// Package changefeed turns record store mutations into filtered domain events and fans them
// out to subscribers that each own an explicit cancellation handle.
package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Operation is the kind of mutation that produced an event.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	// OpAny only appears in filters.
	OpAny Operation = "any"
)

// ParseOperation normalises an operation token. An empty token means any.
func ParseOperation(value string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(value))); op {
	case "":
		return OpAny, nil
	case OpInsert, OpUpdate, OpDelete, OpAny:
		return op, nil
	default:
		return "", fmt.Errorf("changefeed: unknown operation %q", value)
	}
}

// Row is a column name to value image of a record.
type Row map[string]any

// Event is a typed domain event describing one row mutation.
type Event struct {
	ID          string    `json:"id"`
	Table       string    `json:"table"`
	Operation   Operation `json:"operation"`
	Before      Row       `json:"before,omitempty"`
	After       Row       `json:"after,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// Row returns the image filters are evaluated against: the new row, or the old one for deletes.
func (e Event) Row() Row {
	if e.Operation == OpDelete || e.After == nil {
		return e.Before
	}
	return e.After
}

// Changed reports whether column differs between the before and after images.
func (e Event) Changed(column string) bool {
	if e.Operation != OpUpdate || e.Before == nil || e.After == nil {
		return false
	}
	before, hadBefore := e.Before[column]
	after, hasAfter := e.After[column]
	if hadBefore != hasAfter {
		return true
	}
	return !sameValue(before, after)
}

// DecodeAfter decodes the after image into out, typically a pointer to a model struct.
func (e Event) DecodeAfter(out any) error {
	return DecodeRow(e.After, out)
}

// DecodeBefore decodes the before image into out.
func (e Event) DecodeBefore(out any) error {
	return DecodeRow(e.Before, out)
}

// DecodeRow maps a row image onto a struct using its json tags, which match column names.
func DecodeRow(row Row, out any) error {
	if row == nil {
		return fmt.Errorf("changefeed: empty row image")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			bytesToStringHook,
		),
	})
	if err != nil {
		return fmt.Errorf("changefeed: decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(row)); err != nil {
		return fmt.Errorf("changefeed: decode row: %w", err)
	}
	return nil
}

func bytesToStringHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if raw, ok := data.([]byte); ok && to.Kind() == reflect.String {
		return string(raw), nil
	}
	return data, nil
}

// decodeEvent parses a JSON encoded event keeping numbers exact.
func decodeEvent(payload []byte) (Event, error) {
	var evt Event
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&evt); err != nil {
		return Event{}, fmt.Errorf("changefeed: decode event: %w", err)
	}
	if evt.Table == "" {
		return Event{}, fmt.Errorf("changefeed: event without table")
	}
	op, err := ParseOperation(string(evt.Operation))
	if err != nil || op == OpAny {
		return Event{}, fmt.Errorf("changefeed: event with operation %q", evt.Operation)
	}
	evt.Operation = op
	return evt, nil
}

// sameValue compares column values. Numbers compare by value whatever their Go kind, so an id
// decoded from JSON as float64 or json.Number equals the int64 loaded from the store.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, aNum := numberText(a)
	nb, bNum := numberText(b)
	switch {
	case aNum && bNum:
		return na == nb
	case aNum:
		return na == numericString(b)
	case bNum:
		return nb == numericString(a)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Uint reports value as an unsigned integer when it is a whole non-negative number, either
// numeric or a decimal string.
func Uint(value any) (uint64, bool) {
	text, ok := numberText(value)
	if !ok {
		str, isString := value.(string)
		if !isString {
			return 0, false
		}
		text = canonicalNumber(strings.TrimSpace(str))
	}
	n, err := strconv.ParseUint(text, 10, 64)
	return n, err == nil
}

// numberText renders numeric kinds in one canonical decimal form.
func numberText(value any) (string, bool) {
	if n, ok := value.(json.Number); ok {
		return canonicalNumber(string(n)), true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true
	default:
		return "", false
	}
}

func numericString(value any) string {
	if str, ok := value.(string); ok {
		return canonicalNumber(str)
	}
	return fmt.Sprint(value)
}

func canonicalNumber(text string) string {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if n, err := strconv.ParseUint(text, 10, 64); err == nil {
		return strconv.FormatUint(n, 10)
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return text
}

// normalizeValue turns JSON numbers into int64 when they are whole, float64 otherwise.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(string(v), 10, 64); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return normalizeValue(f)
		}
		return string(v)
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
	}
	return value
}
