package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields_Order(t *testing.T) {
	ctx := context.Background()
	ctx = WithEventID(ctx, "evt-1")
	ctx = WithChannel(ctx, "orders")
	ctx = WithServiceName(ctx, "sink-service")

	assert.Equal(t, []interface{}{
		"service_name", "sink-service",
		"channel", "orders",
		"event_id", "evt-1",
	}, GetLogFields(ctx))
}

func TestGetLogFields_Empty(t *testing.T) {
	assert.Empty(t, GetLogFields(context.Background()))
	assert.Equal(t, "", GetChannel(nil))
}
