package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"rivulet/pkg/logging"
)

func TestSugaredLogger_ContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core)).(*SugaredLogger)
	log.SetServiceName("sink-service")

	ctx := logging.WithChannel(context.Background(), "orders")
	log.WarnwCtx(ctx, "flush failed", "records", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "orders", fields["channel"])
	assert.Equal(t, "sink-service", fields["service_name"])
	assert.EqualValues(t, 3, fields["records"])
}

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		log, err := New(level, "json")
		require.NoError(t, err)
		assert.NotNil(t, log)
	}
}
