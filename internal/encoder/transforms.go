package encoder

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// RelativeTime presents a time.Time as "3 hours ago".
func RelativeTime(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("want time.Time, got %T", v)
	}
	return humanize.Time(t), nil
}

// TimeLayout presents a time.Time formatted with layout.
func TimeLayout(layout string) Transform {
	return func(v any) (any, error) {
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("want time.Time, got %T", v)
		}
		return t.Format(layout), nil
	}
}

// Bytes presents a byte count as "82 MB".
func Bytes(v any) (any, error) {
	n, err := toUint(v)
	if err != nil {
		return nil, err
	}
	return humanize.Bytes(n), nil
}

// Comma presents an integer with thousands separators.
func Comma(v any) (any, error) {
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	return humanize.Comma(n), nil
}

// Ordinal presents an integer as "1st", "2nd", ...
func Ordinal(v any) (any, error) {
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	return humanize.Ordinal(int(n)), nil
}

// String presents any fmt.Stringer or error as its string form.
func String(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case error:
		return s.Error(), nil
	}
	return nil, fmt.Errorf("want fmt.Stringer, got %T", v)
}

// Transforms maps the transform names accepted in dataset field definitions
// to their implementations.
var Transforms = map[string]Transform{
	"relative_time": RelativeTime,
	"rfc3339":       TimeLayout(time.RFC3339),
	"date":          TimeLayout(time.DateOnly),
	"bytes":         Bytes,
	"comma":         Comma,
	"ordinal":       Ordinal,
	"string":        String,
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

func toUint(v any) (uint64, error) {
	if u, ok := v.(uint64); ok {
		return u, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("want non-negative size, got %d", n)
	}
	return uint64(n), nil
}
