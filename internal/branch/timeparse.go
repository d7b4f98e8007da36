package branch

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// timestampLayouts covers the string shapes graph and SQL stores emit.
// Offset-aware forms are converted; naive forms are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
}

// NormalizeTimestamp coerces any store-provided temporal value into a single
// UTC representation. It is total over ISO strings (with or without
// sub-second precision or offsets), store-native temporal objects, epoch
// numbers, and time.Time values.
func NormalizeTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil timestamp")
		}
		return t.UTC(), nil
	case string:
		return parseTimestampString(t)
	case []byte:
		return parseTimestampString(string(t))
	case float64:
		return epochToTime(t), nil
	case int64:
		return epochToTime(float64(t)), nil
	case int:
		return epochToTime(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("numeric timestamp %q: %w", t.String(), err)
		}
		return epochToTime(f), nil
	case map[string]interface{}:
		return parseNativeTemporal(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// parseNativeTemporal handles graph-store temporal objects serialized as
// {"epoch_seconds": N, "nanoseconds": M} or {"epoch_millis": N}.
func parseNativeTemporal(m map[string]interface{}) (time.Time, error) {
	if v, ok := numField(m, "epoch_millis"); ok {
		return time.UnixMilli(int64(v)).UTC(), nil
	}
	if sec, ok := numField(m, "epoch_seconds"); ok {
		nanos, _ := numField(m, "nanoseconds")
		return time.Unix(int64(sec), int64(nanos)).UTC(), nil
	}
	if s, ok := m["iso"].(string); ok {
		return parseTimestampString(s)
	}
	return time.Time{}, fmt.Errorf("unrecognized temporal object with keys %v", mapKeys(m))
}

func numField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// epochToTime treats values past the year-5000 second range as milliseconds.
func epochToTime(v float64) time.Time {
	if math.Abs(v) > 1e11 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func mapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
