//go:build integration

package schemaregistry

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/testinfra"
)

func TestClient_RedisSharedAcrossInstances(t *testing.T) {
	rdb := testinfra.Redis(t)
	registry := &fakeRegistry{}
	srv := httptest.NewServer(registry.handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()

	first := newTestClient(t, srv.URL, rdb)
	_, err := first.Schema(ctx, 1)
	require.NoError(t, err)

	second := newTestClient(t, srv.URL, rdb)
	schema, err := second.Schema(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, "com.example.events.Event", schema.Name())
	assert.Equal(t, int32(1), registry.lookups.Load())

	ttl, err := rdb.TTL(ctx, redisKey(1)).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
