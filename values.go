package offsync

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the textual timestamp format stored by the SQLite backend
// and produced by its triggers. It sorts lexically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var timestampLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsInt normalizes an aggregate or column value to int.
// Drivers report counts as int64, float64, []byte or string depending on the backend.
func AsInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("offsync: value %d overflows int", n)
		}
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		return parseIntText(n.String())
	case []byte:
		return parseIntText(string(n))
	case string:
		return parseIntText(n)
	default:
		return 0, fmt.Errorf("offsync: cannot convert %T to int", v)
	}
}

func parseIntText(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("offsync: cannot convert %q to int: %w", s, err)
	}

	return int(f), nil
}

// AsString normalizes a text column value.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.UTC().Format(TimestampLayout)
	default:
		return fmt.Sprint(v)
	}
}

// AsTime normalizes a timestamp column value stored either natively or as text.
func AsTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimestamp(t)
	case []byte:
		return parseTimestamp(string(t))
	case int64:
		return time.UnixMilli(t).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("offsync: cannot convert %T to time", v)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("offsync: unrecognized timestamp %q", s)
}
