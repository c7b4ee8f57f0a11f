package remote

import (
	"encoding/json"
	"math"
)

// Field values arrive either as Go values (in-process stores) or decoded
// JSON (float64, json.Number); these helpers accept both.

// Int64 converts a numeric field value.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if math.Trunc(n) != n {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// String returns a string field value.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Bool returns a bool field value.
func Bool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// Strings returns a list of strings, skipping non-string entries.
func Strings(v any) []string {
	var out []string
	for _, e := range anySlice(v) {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Map returns a nested map field value.
func Map(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// GetInt64 reads a numeric field, returning 0 when missing.
func (d Document) GetInt64(field string) int64 {
	n, _ := Int64(d.Fields[field])
	return n
}

// GetString reads a string field, returning "" when missing.
func (d Document) GetString(field string) string {
	s, _ := String(d.Fields[field])
	return s
}

// MergeFields deep-merges src into dst and returns dst.
func MergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sm, sok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			dst[k] = MergeFields(dm, sm)
			continue
		}
		if sok {
			dst[k] = MergeFields(nil, sm)
			continue
		}
		dst[k] = v
	}
	return dst
}

// CloneFields deep-copies nested maps and slices.
func CloneFields(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
