package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{404, "4xx"},
		{429, "4xx"},
		{503, "5xx"},
		{0, "error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, StatusClass(tt.code))
	}
}

func TestRecordSyncItem(t *testing.T) {
	before := testutil.ToFloat64(SyncItems.WithLabelValues("test-resource", "processed"))
	RecordSyncItem("test-resource", "processed")
	after := testutil.ToFloat64(SyncItems.WithLabelValues("test-resource", "processed"))
	assert.Equal(t, before+1, after)
}

func TestSetWatermark(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	SetWatermark("test-resource", at)
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(SyncWatermark.WithLabelValues("test-resource")))
}
