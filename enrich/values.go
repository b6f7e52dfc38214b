package enrich

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// toInt64 coerces a decoded row value to an id. Fractional and non-numeric
// values are rejected.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// toKey renders a lookup key value as the string passed to the repository
func toKey(v any) (string, bool) {
	switch k := v.(type) {
	case nil:
		return "", false
	case string:
		k = strings.TrimSpace(k)
		return k, k != ""
	case json.Number:
		return k.String(), true
	case bool, map[string]any, []any:
		return "", false
	default:
		if i, ok := toInt64(k); ok {
			return strconv.FormatInt(i, 10), true
		}
		return "", false
	}
}

// toText renders a discriminant value for comparison
func toText(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		if i, ok := toInt64(s); ok {
			return strconv.FormatInt(i, 10), true
		}
		return "", false
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
