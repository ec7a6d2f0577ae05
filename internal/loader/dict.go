package loader

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xtxerr/digirec/internal/errors"
)

// Dict is an insertion-ordered configuration mapping. Values are scalars
// (int, float64, bool, string, nil) or a nested Dict.
//
// A Dict is built once and only read afterwards; it is safe to share.
type Dict struct {
	keys   []string
	values map[string]any
}

// KV is one flattened configuration entry, the row format of a config table.
type KV struct {
	Key   string
	Value string
}

// NewDict returns an empty Dict.
func NewDict() Dict {
	return Dict{values: make(map[string]any)}
}

// Set adds or replaces a value. New keys are appended to the key order.
func (d *Dict) Set(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Keys returns the keys in document order.
func (d Dict) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of top-level keys.
func (d Dict) Len() int {
	return len(d.keys)
}

// Has reports whether key is present.
func (d Dict) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Get returns the raw value stored under key.
func (d Dict) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Section returns the nested mapping stored under key.
func (d Dict) Section(key string) (Dict, bool) {
	v, ok := d.values[key]
	if !ok {
		return Dict{}, false
	}
	s, ok := v.(Dict)
	return s, ok
}

// Int returns an integer value. Floats with an integral value are accepted.
func (d Dict) Int(key string) (int, error) {
	v, ok := d.values[key]
	if !ok {
		return 0, errors.NewMissingField(key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, nil
		}
	}
	return 0, errors.NewInvalidValue(key, v, "expected an integer")
}

// Float returns a numeric value.
func (d Dict) Float(key string) (float64, error) {
	v, ok := d.values[key]
	if !ok {
		return 0, errors.NewMissingField(key)
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, nil
		}
	}
	return 0, errors.NewInvalidValue(key, v, "expected a number")
}

// Bool returns a boolean value.
func (d Dict) Bool(key string) (bool, error) {
	v, ok := d.values[key]
	if !ok {
		return false, errors.NewMissingField(key)
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if pb, err := strconv.ParseBool(b); err == nil {
			return pb, nil
		}
	}
	return false, errors.NewInvalidValue(key, v, "expected a boolean")
}

// String returns a scalar rendered as a string.
func (d Dict) String(key string) (string, error) {
	v, ok := d.values[key]
	if !ok {
		return "", errors.NewMissingField(key)
	}
	if _, nested := v.(Dict); nested {
		return "", errors.NewInvalidValue(key, "<section>", "expected a scalar")
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

// Milliseconds returns a duration. Numbers are milliseconds; strings may
// use time.ParseDuration syntax ("500ms", "2s").
func (d Dict) Milliseconds(key string) (time.Duration, error) {
	v, ok := d.values[key]
	if !ok {
		return 0, errors.NewMissingField(key)
	}
	if s, isStr := v.(string); isStr {
		if dur, err := time.ParseDuration(s); err == nil {
			return dur, nil
		}
	}
	f, err := d.Float(key)
	if err != nil {
		return 0, errors.NewInvalidValue(key, v, "expected milliseconds or a duration")
	}
	return time.Duration(f * float64(time.Millisecond)), nil
}

// Flatten returns every entry in document order. Nested entries are keyed
// parent/child.
func (d Dict) Flatten() []KV {
	var out []KV
	for _, k := range d.keys {
		switch v := d.values[k].(type) {
		case Dict:
			for _, inner := range v.Flatten() {
				out = append(out, KV{Key: k + "/" + inner.Key, Value: inner.Value})
			}
		case nil:
			out = append(out, KV{Key: k, Value: ""})
		default:
			out = append(out, KV{Key: k, Value: fmt.Sprint(v)})
		}
	}
	return out
}
