package jsonapi

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// maxUnixSeconds rejects numeric timestamps past year 5000.
const maxUnixSeconds = 1e11

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime leniently parses a timestamp attribute. Strings in common ISO
// forms and unix-second numbers are accepted. Returns nil on failure.
func ParseTime(v any) *time.Time {
	var t time.Time
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		t = val
	case *time.Time:
		if val == nil {
			return nil
		}
		t = *val
	case float64:
		if math.IsNaN(val) || val <= 0 || val > maxUnixSeconds {
			return nil
		}
		sec, frac := math.Modf(val)
		t = time.Unix(int64(sec), int64(frac*1e9))
	case int64:
		return ParseTime(float64(val))
	case int:
		return ParseTime(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil
		}
		return ParseTime(f)
	case string:
		parsed, ok := parseTimeString(strings.TrimSpace(val))
		if !ok {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

// Time returns the first parseable timestamp among keys.
func (a Attributes) Time(keys ...string) *time.Time {
	for _, key := range keys {
		if v, ok := a.Value(key); ok {
			if t := ParseTime(v); t != nil {
				return t
			}
		}
	}
	return nil
}

func parseTimeString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 && secs <= maxUnixSeconds {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}
