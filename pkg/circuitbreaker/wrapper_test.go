package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"rivulet/internal/config"
)

func TestWrapper_TripsAfterFailures(t *testing.T) {
	w := NewWrapper(Config{
		Name:        "test-trip",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: RatioTrip(2, 0.5),
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		err := w.Run(context.Background(), func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.True(t, w.IsOpen())

	err := w.Run(context.Background(), func() error { return nil })
	assert.True(t, IsOpenError(err))
}

func TestWrapper_IgnoresSuccessfulErrors(t *testing.T) {
	notFound := errors.New("not found")
	w := NewWrapper(Config{
		Name:         "test-ignore",
		MaxRequests:  1,
		Timeout:      time.Minute,
		ReadyToTrip:  RatioTrip(1, 0.5),
		IsSuccessful: func(err error) bool { return errors.Is(err, notFound) },
	})

	for i := 0; i < 3; i++ {
		_ = w.Run(context.Background(), func() error { return notFound })
	}
	_ = w.Run(context.Background(), func() error { return context.Canceled })

	assert.Equal(t, gobreaker.StateClosed, w.State())
}

func TestWrapper_CancelledContextSkipsCall(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-cancel"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := w.Run(ctx, func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig("s3", config.CircuitBreakerConfig{
		MaxRequests:  2,
		Timeout:      5 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  4,
	})

	assert.Equal(t, "s3", cfg.Name)
	assert.Equal(t, uint32(2), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.False(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 3, TotalFailures: 3}))
	assert.True(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 4, TotalFailures: 2}))
}
