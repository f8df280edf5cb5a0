package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"rivulet/internal/broker"
	"rivulet/internal/constants"
	"rivulet/internal/logger"
	"rivulet/pkg/logging"
	"rivulet/pkg/metrics"
	"rivulet/pkg/models"
	"rivulet/pkg/tracing"
)

var (
	ErrPublish        = errors.New("publish failed")
	ErrStreamProtocol = errors.New("malformed stream line")
)

// Service applies an acknowledgment contract to each submitted event and
// publishes it to one topic.
type Service struct {
	producer     broker.Producer
	serializer   Serializer
	topic        string
	maxLineBytes int
	clock        clock.PassiveClock
	logger       logger.Logger
}

func NewService(producer broker.Producer, serializer Serializer, topic string, maxLineBytes int, clk clock.PassiveClock, log logger.Logger) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if maxLineBytes <= 0 {
		maxLineBytes = 1 << 20
	}
	return &Service{
		producer:     producer,
		serializer:   serializer,
		topic:        topic,
		maxLineBytes: maxLineBytes,
		clock:        clk,
		logger:       log,
	}
}

func (s *Service) Topic() string {
	return s.topic
}

// NewEvent stamps a missing timestamp with the service clock.
func (s *Service) NewEvent(req EventRequest) models.Event {
	return models.NewEvent(req.ID, req.Type, req.Payload, req.TimestampMs, s.clock.Now())
}

// Submit returns queued for fire-and-forget, and acked or failed for
// wait-for-ack. A failed status comes with an error wrapping ErrPublish.
func (s *Service) Submit(ctx context.Context, e models.Event, mode AckMode) (string, error) {
	ctx = logging.WithEventID(ctx, e.ID)
	ctx, span := tracing.GetTracer(constants.ServiceNameIngest).Start(ctx, "ingest.submit")
	defer span.End()

	if mode == FireAndForget {
		return s.enqueue(ctx, e)
	}
	return s.publish(ctx, e)
}

func (s *Service) enqueue(ctx context.Context, e models.Event) (string, error) {
	payload, err := s.serializer.Serialize(e)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to serialize event, dropping it", "error", err)
		metrics.IncIngestEvent(FireAndForget.String(), constants.StatusFailed)
		return constants.StatusQueued, nil
	}

	s.producer.PublishAsync(ctx, s.topic, []byte(e.ID), payload)
	metrics.IncIngestEvent(FireAndForget.String(), constants.StatusQueued)
	return constants.StatusQueued, nil
}

func (s *Service) publish(ctx context.Context, e models.Event) (string, error) {
	start := time.Now()

	payload, err := s.serializer.Serialize(e)
	if err == nil {
		var loc broker.Location
		loc, err = s.producer.Publish(ctx, s.topic, []byte(e.ID), payload)
		if err == nil {
			metrics.ObservePublishDuration(constants.StatusAcked, time.Since(start))
			metrics.IncIngestEvent(WaitForAck.String(), constants.StatusAcked)
			s.logger.DebugwCtx(ctx, "Event acknowledged",
				"topic", loc.Topic,
				"partition", loc.Partition,
				"offset", loc.Offset,
			)
			return constants.StatusAcked, nil
		}
	}

	metrics.ObservePublishDuration(constants.StatusFailed, time.Since(start))
	metrics.IncIngestEvent(WaitForAck.String(), constants.StatusFailed)
	s.logger.WarnwCtx(ctx, "Event publish failed",
		"topic", s.topic,
		"error", err,
	)
	return constants.StatusFailed, fmt.Errorf("%w: %v", ErrPublish, err)
}
