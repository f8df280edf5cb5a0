package broker

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"rivulet/internal/config"
	"rivulet/internal/logger"
	apperrors "rivulet/pkg/errors"
	"rivulet/pkg/logging"
	"rivulet/pkg/metrics"
	"rivulet/pkg/retry"
	"rivulet/pkg/tracing"
)

// ErrMissingChannel is reported for a record that carries no source channel.
var ErrMissingChannel = errors.New("record has no channel")

const commitTimeout = 5 * time.Second

type DeadLetterWriter interface {
	WriteDeadLetter(ctx context.Context, topic string, rec Record, reason error) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	dlqTopic    string
	dlq         DeadLetterWriter
	logger      logger.Logger
	serviceName string

	newReader func(topics []string) messageReader

	mu     sync.Mutex
	reader messageReader
}

// NewKafkaConsumer builds a consumer-group reader. Records whose handler
// fails are written to dlqTopic when both dlqTopic and dlq are set.
func NewKafkaConsumer(cfg config.KafkaConfig, dlqTopic string, dlq DeadLetterWriter, log logger.Logger) *KafkaConsumer {
	c := &KafkaConsumer{
		cfg:         cfg,
		dlqTopic:    dlqTopic,
		dlq:         dlq,
		logger:      log,
		serviceName: "unknown",
	}
	c.newReader = func(topics []string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: topics,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
		})
	}
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks, delivering records from topics to handler until ctx is done
// or the consumer is closed. Every fetched message is committed once handled,
// whether the handler succeeded, failed or the record went to the DLQ.
func (c *KafkaConsumer) Consume(ctx context.Context, topics []string, handler HandlerFunc) error {
	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Creating Kafka reader",
		"topics", topics,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	reader := c.newReader(topics)
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	c.logger.InfowCtx(consumeCtx, "Started consuming", "topics", topics)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"reason", "context canceled",
				)
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"reason", "reader closed",
				)
				return nil
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		c.handle(ctx, m, handler)

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := reader.CommitMessages(commitCtx, m); err != nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
				"error", err,
				"topic", m.Topic,
				"partition", m.Partition,
				"offset", m.Offset,
			)
		}
		cancel()
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	msgCtx, span := tracing.StartConsumeSpan(ctx, m)
	defer span.End()

	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)
	msgCtx = logging.WithChannel(msgCtx, m.Topic)
	if sc := span.SpanContext(); sc.HasTraceID() {
		msgCtx = logging.WithTraceID(msgCtx, sc.TraceID().String())
	}

	metrics.IncKafkaMessagesRead(c.serviceName, m.Topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, m.Topic, "in", len(m.Value))
	if m.HighWaterMark > 0 {
		metrics.SetKafkaConsumerLag(c.serviceName, m.Topic, m.Partition, m.HighWaterMark-m.Offset-1)
	}

	rec := toRecord(m)

	var err error
	if rec.Channel == "" {
		err = ErrMissingChannel
	} else {
		err = c.processWithRetry(msgCtx, rec, handler)
	}
	if err == nil {
		return
	}

	span.RecordError(err)
	c.logger.ErrorwCtx(msgCtx, "Failed to process message",
		"error", err,
		"partition", rec.Partition,
		"offset", rec.Offset,
	)
	c.deadLetter(msgCtx, rec, err)
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, rec Record, handler HandlerFunc) error {
	policy := retry.Policy{
		MaxAttempts:     c.cfg.Retry.MaxAttempts,
		InitialInterval: c.cfg.Retry.InitialInterval,
		MaxInterval:     c.cfg.Retry.MaxInterval,
		Multiplier:      c.cfg.Retry.Multiplier,
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 500 * time.Millisecond
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = 10 * time.Second
	}

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
				)
			}
		}()
		return handler(ctx, rec)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, "consume").Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, rec Record, cause error) {
	if c.dlq == nil || c.dlqTopic == "" {
		c.logger.WarnwCtx(ctx, "No DLQ configured, committing message to avoid blocking")
		return
	}

	if err := c.dlq.WriteDeadLetter(context.WithoutCancel(ctx), c.dlqTopic, rec, cause); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", err,
			"dlq_topic", c.dlqTopic,
		)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, rec.Channel, dlqReason(cause)).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"dlq_topic", c.dlqTopic,
		"reason", cause.Error(),
	)
}

func dlqReason(err error) string {
	var appErr *apperrors.Error
	switch {
	case errors.Is(err, ErrMissingChannel):
		return "missing_channel"
	case errors.As(err, &appErr) && appErr.Details["panic"] == true:
		return "panic"
	default:
		return "handler_error"
	}
}

func toRecord(m kafka.Message) Record {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Record{
		Channel:   m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
