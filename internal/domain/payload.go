package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Payload holds the business fields of a record. Values are limited to
// string, int64, float64, bool and nil once passed through NormalizePayload.
type Payload map[string]any

// Clone returns a shallow copy; values are scalars so this is a full copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Fields returns the payload keys sorted alphabetically.
func (p Payload) Fields() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizePayload is the schema boundary for incoming payloads: keys are trimmed,
// nested values are rejected and numbers are reduced to int64 or float64.
func NormalizePayload(raw map[string]any) (Payload, error) {
	out := make(Payload, len(raw))
	for key, value := range raw {
		name := strings.TrimSpace(key)
		if name == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidPayload)
		}
		normalized, err := normalizeValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidPayload, name, err)
		}
		out[name] = normalized
	}
	return out, nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case bool:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", v.String())
		}
		return f, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return float64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite number")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", reflect.TypeOf(value))
	}
}

// DecodePayload parses a JSON object into a normalized payload.
func DecodePayload(raw []byte) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return NormalizePayload(fields)
}

// EncodePayload marshals a payload for JSONB storage. A nil payload encodes as SQL NULL.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// FieldChange is one field-level difference between two payload snapshots.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// DiffPayloads lists the fields whose values differ between before and after,
// sorted by field name. An absent field reads as nil, so a field that is absent
// or null on both sides is not a change.
func DiffPayloads(before, after Payload) []FieldChange {
	seen := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		seen[k] = struct{}{}
	}
	for k := range after {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := []FieldChange{}
	for _, key := range keys {
		oldValue := before[key]
		newValue := after[key]
		if ValuesEqual(oldValue, newValue) {
			continue
		}
		changes = append(changes, FieldChange{Field: key, OldValue: oldValue, NewValue: newValue})
	}
	return changes
}

// ValuesEqual compares scalar payload values, treating int64 and float64 numerically.
func ValuesEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}
