package jsonapi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Attributes is a resource's attribute object.
type Attributes map[string]any

// Attr returns the first present, non-blank value among keys (and their
// hyphen/underscore variants) rendered as a string. Returns "" when absent.
func Attr(attrs Attributes, keys ...string) string {
	v, ok := attrs.Value(keys...)
	if !ok {
		return ""
	}
	return String(v)
}

// Value returns the first present, non-blank raw value among keys.
func (a Attributes) Value(keys ...string) (any, bool) {
	if len(a) == 0 {
		return nil, false
	}
	for _, key := range keys {
		for _, variant := range keyVariants(key) {
			v, ok := a[variant]
			if ok && present(v) {
				return v, true
			}
		}
	}
	return nil, false
}

// String is Attr as a method.
func (a Attributes) String(keys ...string) string {
	return Attr(a, keys...)
}

// Map returns the first present object value among keys.
func (a Attributes) Map(keys ...string) map[string]any {
	v, ok := a.Value(keys...)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// Slice returns the first present array value among keys.
func (a Attributes) Slice(keys ...string) []any {
	v, ok := a.Value(keys...)
	if !ok {
		return nil
	}
	s, _ := v.([]any)
	return s
}

// Strings returns an array value as strings, skipping blanks.
func (a Attributes) Strings(keys ...string) []string {
	return StringSlice(a.Slice(keys...))
}

// Bool returns a boolean-ish value, nil when absent or unparseable.
func (a Attributes) Bool(keys ...string) *bool {
	v, ok := a.Value(keys...)
	if !ok {
		return nil
	}
	return ParseBool(v)
}

// Has reports whether any key variant is present and non-blank.
func (a Attributes) Has(keys ...string) bool {
	_, ok := a.Value(keys...)
	return ok
}

// String renders a scalar attribute value. Objects and arrays are rendered
// as compact JSON.
func String(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case []any, map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// StringSlice converts a JSON array into non-blank strings. Object elements
// contribute their label, name or value member.
func StringSlice(items []any) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if m, ok := item.(map[string]any); ok {
			s = Attr(Attributes(m), "label", "name", "value", "title")
		} else {
			s = String(item)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseBool accepts booleans, "true"/"false"/"yes"/"no"/"1"/"0" and numbers.
func ParseBool(v any) *bool {
	var b bool
	switch val := v.(type) {
	case bool:
		b = val
	case float64:
		b = val != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1", "y", "on":
			b = true
		case "false", "no", "0", "n", "off":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}

func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// keyVariants returns key plus its hyphen and underscore spellings.
func keyVariants(key string) []string {
	variants := []string{key}
	if hyphen := strings.ReplaceAll(key, "_", "-"); hyphen != key {
		variants = append(variants, hyphen)
	}
	if underscore := strings.ReplaceAll(key, "-", "_"); underscore != key {
		variants = append(variants, underscore)
	}
	return variants
}
