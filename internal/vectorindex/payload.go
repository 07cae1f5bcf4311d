package vectorindex

import (
	"strconv"
)

// payloadString returns the string form of a payload value for filter
// comparison. Numeric values use the shortest round-trip encoding.
func payloadString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// payloadNumber returns the numeric form of a payload value, if any.
func payloadNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// MatchesFilter evaluates a filter conjunction against a payload.
// Used by backends that cannot push every condition down to storage.
func MatchesFilter(payload map[string]any, filter *Filter) bool {
	if filter.Empty() {
		return true
	}
	for key, want := range filter.Match {
		got, ok := payloadString(payload[key])
		if !ok || got != want {
			return false
		}
	}
	for key, wants := range filter.MatchAny {
		got, ok := payloadString(payload[key])
		if !ok {
			return false
		}
		found := false
		for _, want := range wants {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, r := range filter.Ranges {
		n, ok := payloadNumber(payload[r.Key])
		if !ok {
			return false
		}
		if r.GTE != nil && n < *r.GTE {
			return false
		}
		if r.LTE != nil && n > *r.LTE {
			return false
		}
	}
	return true
}
