package platform

import "fmt"

// ToInt converts the numeric types produced by codecs to int.
func ToInt(v any) (int, bool) {
	n, ok := ToInt64(v)
	return int(n), ok
}

// ToInt64 converts the numeric types produced by codecs to int64.
// Fractional floats are rejected.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		if n != float32(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// ParseString extracts a string from an any value.
func ParseString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// ParseBool extracts a bool from an any value.
func ParseBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// ParseMap extracts a map[string]any from an any value.
func ParseMap(value any) map[string]any {
	if value == nil {
		return nil
	}
	if m, ok := value.(map[string]any); ok {
		return m
	}
	if m, ok := value.(map[any]any); ok {
		converted := make(map[string]any, len(m))
		for key, val := range m {
			if keyString, ok := key.(string); ok {
				converted[keyString] = val
			}
		}
		return converted
	}
	return nil
}

// ParseStringSlice extracts a []string from a decoded list.
// It fails if any element is not a string.
func ParseStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// ParseIntSlice extracts a []int from a decoded list.
// It fails if any element is not an integral number.
func ParseIntSlice(value any) ([]int, bool) {
	switch v := value.(type) {
	case []int:
		return v, true
	case []any:
		out := make([]int, len(v))
		for i, item := range v {
			n, ok := ToInt(item)
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
