package pypi

import (
	"strconv"
	"time"

	"github.com/crateio/carrier/internal/release"
)

// The index RPC surface is loose about shapes: several methods return a
// scalar where a sequence is documented, or a bare mapping where a sequence
// of mappings is documented. All coercion lives here so the method wrappers
// stay literal.

// toSlice wraps a scalar into a one-element sequence. nil stays empty.
func toSlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{v}
	}
}

// toMappings coerces a mapping-or-sequence-of-mappings value. Anything that
// is neither is a protocol error reported under method.
func toMappings(method string, v any) ([]map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{t}, nil
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, &ProtocolError{Method: method, Reason: "sequence element is not a mapping"}
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, &ProtocolError{Method: method, Reason: "neither a mapping nor a sequence"}
	}
}

func toStrings(v any) []string {
	in := toSlice(v)
	out := make([]string, 0, len(in))
	for _, e := range in {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

// toTime decodes an RPC timestamp: the codec yields time.Time for
// dateTime.iso8601 values, but some index deployments report upload times
// as plain strings.
func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{release.TimeLayout, time.RFC3339, "20060102T15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}
