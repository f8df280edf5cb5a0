package schemaregistry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rivulet/internal/config"
	"rivulet/internal/logger"
	"rivulet/pkg/models"
)

type fakeRegistry struct {
	lookups   atomic.Int32
	registers atomic.Int32
	failFirst atomic.Int32
}

func (f *fakeRegistry) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/schemas/ids/1", func(w http.ResponseWriter, r *http.Request) {
		f.lookups.Add(1)
		if f.failFirst.Load() > 0 {
			f.failFirst.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"schema": models.EventSchema})
	})
	mux.HandleFunc("/subjects/events-value/versions", func(w http.ResponseWriter, r *http.Request) {
		f.registers.Add(1)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["schema"] == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"id": 1})
	})
	return mux
}

func newTestClient(t *testing.T, url string, rdb *redis.Client) *Client {
	t.Helper()
	c, err := NewClient(config.SchemaRegistryConfig{
		URL:       url,
		CacheSize: 8,
		Timeout:   time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}, rdb, time.Minute, NewBreaker(config.CircuitBreakerConfig{}), logger.FromZap(zap.NewNop()))
	require.NoError(t, err)
	return c
}

func TestClient_SchemaCachesAfterFirstFetch(t *testing.T) {
	reg := &fakeRegistry{}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	first, err := c.Schema(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "com.example.events.Event", first.Name())

	second, err := c.Schema(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), reg.lookups.Load())
}

func TestClient_SchemaNotFoundIsNotRetried(t *testing.T) {
	reg := &fakeRegistry{}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	_, err := c.Schema(context.Background(), 42)
	assert.ErrorIs(t, err, ErrSchemaNotFound)
	assert.False(t, c.breaker.IsOpen())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	reg := &fakeRegistry{}
	reg.failFirst.Store(2)
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	_, err := c.Schema(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), reg.lookups.Load())
}

func TestClient_RedisSharedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	reg := &fakeRegistry{}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, rdb).Schema(context.Background(), 1)
	require.NoError(t, err)

	cached, err := mr.Get("schema:1")
	require.NoError(t, err)
	assert.Equal(t, models.EventSchema, cached)

	// a fresh process finds the schema in redis without calling the registry
	s, err := newTestClient(t, srv.URL, rdb).Schema(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "com.example.events.Event", s.Name())
	assert.Equal(t, int32(1), reg.lookups.Load())
}

func TestClient_Register(t *testing.T) {
	reg := &fakeRegistry{}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	id, err := newTestClient(t, srv.URL, nil).Register(context.Background(), "events-value", models.EventSchema)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, int32(1), reg.registers.Load())
}

func TestClient_RegisterRejected(t *testing.T) {
	reg := &fakeRegistry{}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).Register(context.Background(), "events-value", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), reg.registers.Load())
}
