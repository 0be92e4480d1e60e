package factory

import (
	"errors"
	"fmt"
	"math"
)

// ErrMissingAttr is returned when a required attribute is absent.
var ErrMissingAttr = errors.New("missing attribute")

// Attrs is the attribute mapping of one layer description as decoded from a
// model definition: ints, floats, strings, or lists of them.
type Attrs map[string]interface{}

// Has reports whether key is present.
func (a Attrs) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Int reads key as an integer. Integral floats are accepted.
func (a Attrs) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrMissingAttr, key)
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", key, err)
	}
	return n, nil
}

// IntOr reads key as an integer, or returns def when key is absent.
func (a Attrs) IntOr(key string, def int) (int, error) {
	if !a.Has(key) {
		return def, nil
	}
	return a.Int(key)
}

// FloatOr reads key as a float, or returns def when key is absent.
func (a Attrs) FloatOr(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("attribute %q: expected a number, got %T", key, v)
}

// String reads key as a string.
func (a Attrs) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrMissingAttr, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attribute %q: expected a string, got %T", key, v)
	}
	return s, nil
}

// StringOr reads key as a string, or returns def when key is absent.
func (a Attrs) StringOr(key, def string) (string, error) {
	if !a.Has(key) {
		return def, nil
	}
	return a.String(key)
}

// Axes reads a per-axis integer parameter such as a kernel size. The
// combined key (e.g. "kernel_size") wins; it may be a scalar, broadcast to
// every axis, or a list with one entry per axis. Otherwise the per-axis keys
// (e.g. "kernel_h", "kernel_w") are used when all of them are present. If
// neither form is present, def is broadcast; a nil def makes the parameter
// required.
func (a Attrs) Axes(key string, axisKeys []string, def *int) ([]int, error) {
	n := len(axisKeys)
	if v, ok := a[key]; ok {
		return broadcast(key, v, n)
	}

	present := 0
	for _, k := range axisKeys {
		if a.Has(k) {
			present++
		}
	}
	if present == n {
		out := make([]int, n)
		for i, k := range axisKeys {
			x, err := a.Int(k)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	}

	if def == nil {
		return nil, fmt.Errorf("%w %q (or all of %v)", ErrMissingAttr, key, axisKeys)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = *def
	}
	return out, nil
}

func broadcast(key string, v interface{}, n int) ([]int, error) {
	if list, ok := v.([]interface{}); ok {
		if len(list) == 1 {
			v = list[0]
		} else {
			if len(list) != n {
				return nil, fmt.Errorf("attribute %q: expected %d values, got %d", key, n, len(list))
			}
			out := make([]int, n)
			for i, item := range list {
				x, err := toInt(item)
				if err != nil {
					return nil, fmt.Errorf("attribute %q[%d]: %w", key, i, err)
				}
				out[i] = x
			}
			return out, nil
		}
	}
	if ints, ok := v.([]int); ok {
		if len(ints) == 1 {
			v = ints[0]
		} else {
			if len(ints) != n {
				return nil, fmt.Errorf("attribute %q: expected %d values, got %d", key, n, len(ints))
			}
			return append([]int(nil), ints...), nil
		}
	}
	x, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", key, err)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = x
	}
	return out, nil
}

func toInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		if x < math.MinInt || x > math.MaxInt {
			return 0, fmt.Errorf("integer %d out of range", x)
		}
		return int(x), nil
	case uint64:
		if x > math.MaxInt {
			return 0, fmt.Errorf("integer %d out of range", x)
		}
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected an integer, got %v", x)
		}
		// -MinInt is 2^63 (2^31), the first float above MaxInt.
		if x < math.MinInt || x >= -math.MinInt {
			return 0, fmt.Errorf("integer %v out of range", x)
		}
		return int(x), nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func intPtr(v int) *int { return &v }
