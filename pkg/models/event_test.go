package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_DefaultsTimestamp(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	e := NewEvent("evt-1", "click", "{}", nil, now)
	assert.Equal(t, now.UnixMilli(), e.TimestampMs)

	ts := int64(42)
	e = NewEvent("evt-1", "click", "{}", &ts, now)
	assert.Equal(t, int64(42), e.TimestampMs)
}

func TestNewEvent_KeepsExplicitEpoch(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	epoch := int64(0)

	e := NewEvent("evt-1", "click", "{}", &epoch, now)
	assert.Equal(t, int64(0), e.TimestampMs)
}

func TestEvent_Native(t *testing.T) {
	e := Event{ID: "evt-1", Type: "click", Payload: "a", TimestampMs: 7}
	native := e.Native()

	assert.Equal(t, "evt-1", native["id"])
	assert.Equal(t, "click", native["type"])
	assert.Equal(t, int64(7), native["timestamp"])
	assert.Equal(t, "a", native["payload"])
}

func TestValidateEvent(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		field string
	}{
		{name: "valid", event: Event{ID: "evt-1"}},
		{name: "missing id", event: Event{Type: "click"}, field: "id"},
		{name: "negative timestamp", event: Event{ID: "evt-1", TimestampMs: -1}, field: "timestampMs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvent(tt.event)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}
