// Package formdata holds caller-supplied fill data as an ordered key/value
// object. Iteration follows the order keys appeared in the JSON request, which
// the fuzzy resolver relies on for its first-match tie-break.
package formdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Entry is one key/value pair
type Entry struct {
	Key   string
	Value any
}

// Data is an insertion-ordered object. The zero value is empty and ready to
// use.
type Data struct {
	entries []Entry
	index   map[string]int
}

// New returns Data holding pairs in order. pairs alternate key, value.
func New(pairs ...any) *Data {
	d := &Data{}
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		d.Set(key, pairs[i+1])
	}
	return d
}

// FromMap copies m into Data with keys in sorted order
func FromMap(m map[string]any) *Data {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := &Data{}
	for _, k := range keys {
		d.Set(k, m[k])
	}
	return d
}

// Set stores value under key. Re-setting a key keeps its original position.
func (d *Data) Set(key string, value any) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[key]; ok {
		d.entries[i].Value = value
		return
	}
	d.index[key] = len(d.entries)
	d.entries = append(d.entries, Entry{Key: key, Value: value})
}

// Get returns the raw value for key
func (d *Data) Get(key string) (any, bool) {
	if d == nil || d.index == nil {
		return nil, false
	}
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.entries[i].Value, true
}

// Len returns the number of keys
func (d *Data) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Keys returns the keys in insertion order
func (d *Data) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.entries))
	for i, e := range d.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the pairs in insertion order
func (d *Data) Entries() []Entry {
	if d == nil {
		return nil
	}
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// UnmarshalJSON decodes a JSON object, keeping key order. Numbers are kept as
// json.Number so they round-trip without float formatting.
func (d *Data) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to decode form data: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("form data must be a JSON object")
	}

	*d = Data{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to decode form data: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("form data key must be a string")
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode value for %q: %w", key, err)
		}
		d.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to decode form data: %w", err)
	}
	return nil
}

// MarshalJSON encodes the object in insertion order
func (d *Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IsScalar reports whether v is a string, number or boolean
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// Stringify coerces a scalar value to its string form. Booleans become
// "true"/"false"; numbers keep their decimal representation.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", t), nil
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
