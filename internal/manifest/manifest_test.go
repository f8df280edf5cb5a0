package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/logger"
)

func TestNewRecorder_NilDBIsNop(t *testing.T) {
	rec := NewRecorder(nil, logger.NopLogger())

	_, ok := rec.(NopRecorder)
	require.True(t, ok)
	assert.NoError(t, rec.Record(context.Background(), Entry{Channel: "events"}))
}
