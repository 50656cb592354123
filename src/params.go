package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Small helpers for reading/validating the parameter
 *		records passed to add_stage, per the numeric-constraints
 *		table in spec.md §6.
 *
 *----------------------------------------------------------------*/

import "fmt"

func paramInt(params map[string]any, key string, def int) (int, bool) {
	v, ok := params[key]
	if !ok {
		return def, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return def, false
}

func paramFloat(params map[string]any, key string, def float64) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return def, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return def, false
}

func paramString(params map[string]any, key string, def string) string {
	v, ok := params[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func paramBool(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func paramFloatSlice(params map[string]any, key string) ([]float64, bool) {
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []float64:
		return s, true
	case []float32:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out, true
	case []any:
		out := make([]float64, len(s))
		for i, x := range s {
			switch n := x.(type) {
			case float64:
				out[i] = n
			case int:
				out[i] = float64(n)
			}
		}
		return out, true
	}
	return nil, false
}

func requirePositiveInt(params map[string]any, key string) (int, error) {
	n, ok := paramInt(params, key, 0)
	if !ok || n <= 0 {
		return 0, &InvalidParameterError{Field: key, Reason: "must be a positive integer"}
	}
	return n, nil
}

func requireOddAtLeast(params map[string]any, key string, def, min int) (int, error) {
	n, ok := paramInt(params, key, def)
	if !ok {
		n = def
	}
	if n < min || n%2 == 0 {
		return 0, &InvalidParameterError{Field: key, Reason: fmt.Sprintf("must be an odd integer >= %d", min)}
	}
	return n, nil
}

// toAnySlice normalizes the various shapes a nested list can take after
// either an in-memory SerializeState call ([]map[string]any) or a
// yaml.v3 round trip ([]any of map[string]any) into a single []any form.
func toAnySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// toStringMap normalizes a nested record (map[string]any directly, or
// map[any]any as some YAML decoders may produce) into map[string]any.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func requireRange(field string, v, lo, hi float64, loInclusive, hiInclusive bool) error {
	okLo := v > lo || (loInclusive && v == lo)
	okHi := v < hi || (hiInclusive && v == hi)
	if !okLo || !okHi {
		return &InvalidParameterError{Field: field, Reason: fmt.Sprintf("must be in range (%v %v, %v %v)", lo, loInclusive, hi, hiInclusive)}
	}
	return nil
}
