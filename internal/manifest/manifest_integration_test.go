//go:build integration

package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/constants"
	"rivulet/internal/logger"
	"rivulet/internal/testinfra"
)

func TestPostgresRecorder_RecordAndRecent(t *testing.T) {
	db := testinfra.Postgres(t)
	rec := NewPostgresRecorder(db, logger.NopLogger())
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Record(ctx, Entry{
		Channel:     "events",
		Destination: "/data/events/2024-03-01/a.parquet",
		Kind:        constants.DestinationLocal,
		Reason:      "count",
		RecordCount: 100,
		SchemaName:  constants.EventSchemaName,
		Status:      constants.FlushStatusWritten,
		Duration:    42 * time.Millisecond,
		CreatedAt:   base,
	}))
	require.NoError(t, rec.Record(ctx, Entry{
		Channel:     "events",
		Destination: "s3://lake/events/2024-03-01/b.parquet",
		Kind:        constants.DestinationS3,
		Reason:      "interval",
		RecordCount: 3,
		Status:      constants.FlushStatusFailed,
		Error:       "access denied",
		CreatedAt:   base.Add(time.Minute),
	}))
	require.NoError(t, rec.Record(ctx, Entry{
		Channel:     "clicks",
		Destination: "/data/clicks/x.parquet",
		Kind:        constants.DestinationLocal,
		Reason:      "shutdown",
		RecordCount: 1,
		Status:      constants.FlushStatusWritten,
	}))

	entries, err := rec.Recent(ctx, "events", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, constants.FlushStatusFailed, entries[0].Status)
	assert.Equal(t, "access denied", entries[0].Error)
	assert.Equal(t, 3, entries[0].RecordCount)

	assert.Equal(t, constants.FlushStatusWritten, entries[1].Status)
	assert.Equal(t, 42*time.Millisecond, entries[1].Duration)
	assert.Equal(t, constants.EventSchemaName, entries[1].SchemaName)
	assert.NotEmpty(t, entries[1].ID)
}
