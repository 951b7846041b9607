package jsonapi

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttr(t *testing.T) {
	attrs := Attributes{
		"first-name":   "Ada",
		"last_name":    "Lovelace",
		"email":        "   ",
		"phone-number": nil,
		"count":        float64(3),
		"ratio":        1.5,
		"tags":         []any{},
		"remote":       false,
	}

	tests := []struct {
		name     string
		keys     []string
		expected string
	}{
		{"underscore key finds hyphen attribute", []string{"first_name"}, "Ada"},
		{"hyphen key finds underscore attribute", []string{"last-name"}, "Lovelace"},
		{"blank string is skipped", []string{"email"}, ""},
		{"nil is skipped", []string{"phone_number"}, ""},
		{"first present key wins", []string{"email", "first_name"}, "Ada"},
		{"integral float rendered as integer", []string{"count"}, "3"},
		{"fraction rendered", []string{"ratio"}, "1.5"},
		{"empty array skipped", []string{"tags"}, ""},
		{"false is present", []string{"remote"}, "false"},
		{"missing", []string{"nope"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Attr(attrs, tt.keys...))
		})
	}
}

func TestAttr_NilAttributes(t *testing.T) {
	assert.Equal(t, "", Attr(nil, "title"))
}

func TestAttributes_Strings(t *testing.T) {
	attrs := Attributes{
		"choices": []any{"Yes", " ", map[string]any{"label": "Maybe"}, float64(7)},
	}
	assert.Equal(t, []string{"Yes", "Maybe", "7"}, attrs.Strings("choices"))
	assert.Nil(t, attrs.Strings("options"))
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    any
		expected *bool
	}{
		{true, boolPtr(true)},
		{"yes", boolPtr(true)},
		{"0", boolPtr(false)},
		{float64(1), boolPtr(true)},
		{"maybe", nil},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseBool(tt.input))
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected time.Time
		ok       bool
	}{
		{"rfc3339", "2024-05-01T10:20:30Z", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"rfc3339 offset", "2024-05-01T12:20:30+02:00", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"fractional", "2024-05-01T10:20:30.250Z", time.Date(2024, 5, 1, 10, 20, 30, 250000000, time.UTC), true},
		{"space separated", "2024-05-01 10:20:30", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"date only", "2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"unix seconds", float64(1714558830), time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"unix seconds int", int64(1714558830), time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"unix seconds string", "1714558830", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"huge number", float64(1e300), time.Time{}, false},
		{"huge int", int64(math.MaxInt64), time.Time{}, false},
		{"huge numeric string", "99999999999999", time.Time{}, false},
		{"infinity", math.Inf(1), time.Time{}, false},
		{"garbage", "yesterday-ish", time.Time{}, false},
		{"blank", "", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
		{"bool", true, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTime(tt.input)
			if !tt.ok {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.expected.Equal(*got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestAttributes_Time_SkipsUnparseable(t *testing.T) {
	attrs := Attributes{"changed-stage-at": "n/a", "created-at": "2024-01-02T03:04:05Z"}
	got := attrs.Time("changed_stage_at", "created_at")
	require.NotNil(t, got)
	assert.Equal(t, 2024, got.Year())
}

func TestIndexIncluded(t *testing.T) {
	included := []Resource{
		{ID: "1", Type: "candidates"},
		{ID: "1", Type: "jobs"},
		{ID: "", Type: "jobs"},
		{ID: "q1", Type: "questions"},
	}
	ix := IndexIncluded(included)

	assert.Len(t, ix, 3)
	assert.Equal(t, "candidates", FindIncluded(ix, "candidates", "1").Type)
	assert.Equal(t, "jobs", ix.Find("jobs", "1").Type)
	assert.Nil(t, ix.Find("stages", "1"))
	assert.Nil(t, ix.Find("jobs", ""))
	assert.NotNil(t, ix.Resolve(&Identifier{Type: "questions", ID: "q1"}))
	assert.Nil(t, ix.Resolve(nil))
}

func TestIndex_Merge(t *testing.T) {
	a := IndexIncluded([]Resource{{ID: "1", Type: "jobs", Attributes: Attributes{"title": "A"}}})
	b := IndexIncluded([]Resource{{ID: "1", Type: "jobs", Attributes: Attributes{"title": "B"}}, {ID: "2", Type: "jobs"}})
	merged := a.Merge(b)
	assert.Len(t, merged, 2)
	assert.Equal(t, "A", Attr(merged.Find("jobs", "1").Attributes, "title"))
}

func boolPtr(b bool) *bool { return &b }
