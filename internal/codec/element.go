package codec

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
)

// Element is one decoded value of a device channel.
type Element struct {
	Channel int     `json:"channel"`
	Type    int     `json:"type"`
	Value   float64 `json:"value"`

	// Name is the script's label for the value, if it provided one.
	Name string `json:"name,omitempty"`

	// Field names the sub-value of an object-valued channel, e.g. "x" for
	// an accelerometer axis. Empty for scalar channels.
	Field string `json:"field,omitempty"`
}

// Elements is a finite sequence of decoded elements. It may be ranged over
// any number of times.
type Elements iter.Seq[Element]

// Collect returns the elements as a slice.
func (e Elements) Collect() []Element {
	if e == nil {
		return nil
	}
	return slices.Collect(iter.Seq[Element](e))
}

// Empty is the sequence with no elements.
func Empty() Elements {
	return func(func(Element) bool) {}
}

// FromSlice returns a sequence over a fixed set of elements.
func FromSlice(elems []Element) Elements {
	return Elements(slices.Values(elems))
}

// ParseElements converts a list of {channel, type, value, name} objects, as
// produced by a decoder or carried pre-decoded in an uplink envelope, into
// elements. Object values are flattened into one element per key and
// booleans become 0 or 1.
func ParseElements(raw []any) ([]Element, error) {
	out := make([]Element, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrDecode, i, item)
		}
		channel, ok := toInt(m["channel"])
		if !ok || channel < 0 || channel > 255 {
			return nil, fmt.Errorf("%w: element %d has no valid channel", ErrDecode, i)
		}
		typ, ok := toInt(m["type"])
		if !ok || typ < 0 || typ > 255 {
			return nil, fmt.Errorf("%w: element %d has no valid type", ErrDecode, i)
		}
		name, _ := m["name"].(string)

		flat, err := flatten(Element{Channel: channel, Type: typ, Name: name}, "", m["value"])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, flat...)
	}
	return out, nil
}

func flatten(base Element, field string, v any) ([]Element, error) {
	if m, ok := v.(map[string]any); ok {
		var out []Element
		for _, key := range slices.Sorted(maps.Keys(m)) {
			sub := base
			if sub.Name != "" {
				sub.Name += "-" + key
			}
			subField := key
			if field != "" {
				subField = field + "." + key
			}
			elems, err := flatten(sub, subField, m[key])
			if err != nil {
				return nil, err
			}
			out = append(out, elems...)
		}
		return out, nil
	}

	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: channel %d value %v (%T)", ErrDecode, base.Channel, v, v)
	}
	base.Value = f
	base.Field = field
	return []Element{base}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
