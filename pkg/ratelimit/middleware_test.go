package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestStore_LimitsPerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := NewStore(RateLimitConfig{RPS: 0.001, Burst: 2})
	r := gin.New()
	r.Use(store.Middleware())
	r.POST("/events", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusAccepted, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusAccepted, send("10.0.0.1").Code)

	limited := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusAccepted, send("10.0.0.2").Code)
	assert.Equal(t, 2, store.Size())
}

func TestStore_CleanupEvictsIdle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(RateLimitConfig{MaxAge: time.Minute})
	store.now = func() time.Time { return now }

	store.get("a")
	now = now.Add(30 * time.Second)
	store.get("b")
	now = now.Add(45 * time.Second)

	store.cleanup()
	assert.Equal(t, 1, store.Size())
}
