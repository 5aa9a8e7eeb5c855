package gibridge

import (
	"strconv"
	"strings"
)

// DecodeParam decodes the raw string values supplied for one declared
// parameter into its domain value.
//
// Composite, non-exploded parameters arrive comma-joined: an
// even-length split is alternating key/value pairs ("ptr,0xABC" means
// {"ptr": "0xABC"}); anything else falls back to the raw string
// unmodified. Arrays split on the style delimiter. Scalars take the
// last supplied value.
//
// After structural decoding the value goes through declared-type
// coercion; a value that cannot be coerced passes through as-is, left
// for the downstream validation stage. That leniency is deliberate.
func DecodeParam(spec ParamSpec, values []string) any {
	if len(values) == 0 {
		return nil
	}

	switch {
	case spec.Schema.IsArray():
		return decodeArray(spec, values)
	case spec.Schema.IsComposite():
		return decodeComposite(spec, values[len(values)-1])
	default:
		v, _ := coerceValue(spec.Schema, values[len(values)-1])
		return v
	}
}

func decodeComposite(spec ParamSpec, raw string) any {
	if spec.exploded() {
		// Exploded composites arrive as separate keys and are assembled
		// by the caller; a single raw value stays as supplied.
		return raw
	}
	parts := strings.Split(raw, ",")
	if len(parts) < 2 || len(parts)%2 != 0 {
		// Odd or unsplit strings do not match the pairwise form.
		return raw
	}
	obj := make(map[string]any, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		obj[parts[i]] = parts[i+1]
	}
	return obj
}

func decodeArray(spec ParamSpec, values []string) any {
	var items []string
	if spec.exploded() {
		// Exploded arrays repeat the parameter, one item per value.
		items = values
	} else {
		items = strings.Split(values[len(values)-1], ",")
	}
	out := make([]any, 0, len(items))
	var itemSchema *Schema
	if spec.Schema != nil {
		itemSchema = spec.Schema.Items
	}
	for _, it := range items {
		v, _ := coerceValue(itemSchema, it)
		out = append(out, v)
	}
	return out
}

// coerceValue attempts declared-type coercion of a decoded value. The
// second return reports that coercion was skipped: the input did not
// fit the declared type and is returned unchanged for a later
// validation stage to judge. Skipping is an intentional branch, not a
// swallowed failure.
func coerceValue(s *Schema, v any) (any, bool) {
	raw, ok := v.(string)
	if !ok || s == nil {
		return v, false
	}
	switch s.Type {
	case "integer":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return v, true
		}
		return n, false
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return v, true
		}
		return f, false
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return v, true
		}
		return b, false
	default:
		return v, false
	}
}
