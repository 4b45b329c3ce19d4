package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// firstPresent returns the first non-nil value among the aliases, in order.
// Upstream field casing differs between the historical and incremental feeds,
// so every canonical field carries an ordered alias list.
func firstPresent(attrs map[string]any, aliases []string) any {
	for _, a := range aliases {
		if v, ok := attrs[a]; ok && v != nil {
			return v
		}
	}
	return nil
}

// floatOrNull coerces a raw attribute to float64. NaN, infinities, and
// unparsable values all normalize to nil so they land as SQL NULL instead of
// propagating into storage.
func floatOrNull(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return floatOrNull(float64(x))
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		return floatOrNull(f)
	default:
		return nil
	}
}

// textOrNull coerces a raw attribute to a string, or nil when absent.
func textOrNull(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// maxEpochMillis keeps obviously corrupt timestamps (year > ~5000) out of the
// table; they normalize to unknown like any other anomaly.
const maxEpochMillis = 1e14

// millisToTimestamp converts an epoch-milliseconds attribute to a UTC
// timestamp and its calendar date. Conversion failure means "unknown date",
// never an aborted row.
func millisToTimestamp(v any) (ts any, date any) {
	f, ok := floatOrNull(v).(float64)
	if !ok || math.Abs(f) > maxEpochMillis {
		return nil, nil
	}
	t := time.UnixMilli(int64(f)).UTC()
	return t, time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dateOnly truncates a timestamp to its calendar date in UTC.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
