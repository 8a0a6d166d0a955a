package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/marcus/gridsync/internal/syncclient"
)

// parseAssignments turns "field=value" arguments into record values, typed by
// the dataset schema. Fields without a declared kind accept any JSON literal
// and fall back to the raw string.
func parseAssignments(fields []syncclient.Field, args []string) (map[string]any, error) {
	kinds := make(map[string]string, len(fields))
	for _, f := range fields {
		kinds[f.Name] = f.Kind
	}
	values := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		kind, known := kinds[name]
		if !known {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		v, err := parseValue(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}

// parseValue converts raw to the Go value the server expects for kind. An
// empty raw value clears the field.
func parseValue(kind, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	switch kind {
	case "text", "time":
		return raw, nil
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a bool", raw)
		}
		return b, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}
	return raw, nil
}

// formatInput renders a value for an editable text input.
func formatInput(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
