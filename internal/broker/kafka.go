package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"rivulet/internal/config"
	"rivulet/internal/constants"
	"rivulet/internal/logger"
	"rivulet/pkg/metrics"
	"rivulet/pkg/tracing"
)

const (
	HeaderDLQReason          = "dlq_reason"
	HeaderDLQSourceTopic     = "dlq_source_topic"
	HeaderDLQSourcePartition = "dlq_source_partition"
	HeaderDLQSourceOffset    = "dlq_source_offset"
	HeaderDLQTimestamp       = "dlq_timestamp"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer owns two writers: a synchronous one for acknowledged
// publishes and an asynchronous one for fire-and-forget.
type KafkaProducer struct {
	sync        messageWriter
	async       messageWriter
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	p := &KafkaProducer{logger: log, serviceName: "unknown"}
	p.sync = newKafkaWriter(cfg, false, p.onSyncCompletion)
	p.async = newKafkaWriter(cfg, true, p.onAsyncCompletion)
	return p
}

func newKafkaWriter(cfg config.KafkaConfig, async bool, completion func([]kafka.Message, error)) *kafka.Writer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = constants.KafkaBatchTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = constants.KafkaWriteTimeout
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           parseRequiredAcks(cfg.RequiredAcks),
		AllowAutoTopicCreation: true,
		Async:                  async,
		Completion:             completion,
	}
}

func parseRequiredAcks(value string) kafka.RequiredAcks {
	switch strings.ToLower(value) {
	case "none":
		return kafka.RequireNone
	case "one":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

func (p *KafkaProducer) SetServiceName(name string) {
	p.serviceName = name
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) (Location, error) {
	return p.publish(ctx, p.newMessage(ctx, topic, key, value, nil))
}

func (p *KafkaProducer) publish(ctx context.Context, msg kafka.Message) (Location, error) {
	ctx, span := tracing.StartProduceSpan(ctx, msg.Topic)
	defer span.End()

	loc := &Location{Topic: msg.Topic, Partition: -1, Offset: -1}
	msg.WriterData = loc

	start := time.Now()
	err := p.sync.WriteMessages(ctx, msg)
	metrics.ObserveKafkaWriteDuration(p.serviceName, msg.Topic, time.Since(start))
	if err != nil {
		span.RecordError(err)
		metrics.IncKafkaMessagesWritten(p.serviceName, msg.Topic, "error")
		return Location{}, fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, msg.Topic, "ok")
	metrics.ObserveKafkaMessageSize(p.serviceName, msg.Topic, "out", len(msg.Value))
	p.logger.DebugwCtx(ctx, "Message published",
		"topic", loc.Topic,
		"partition", loc.Partition,
		"offset", loc.Offset,
	)
	return *loc, nil
}

func (p *KafkaProducer) PublishAsync(ctx context.Context, topic string, key, value []byte) {
	msg := p.newMessage(ctx, topic, key, value, nil)
	// The async writer only enqueues; the request context must not cancel delivery.
	if err := p.async.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		metrics.IncKafkaMessagesWritten(p.serviceName, topic, "error")
		p.logger.WarnwCtx(ctx, "Failed to enqueue message",
			"topic", topic,
			"error", err,
		)
	}
}

// WriteDeadLetter republishes a consumed record to topic with the failure
// reason and its source coordinates in the headers.
func (p *KafkaProducer) WriteDeadLetter(ctx context.Context, topic string, rec Record, reason error) error {
	headers := make(map[string]string, len(rec.Headers)+5)
	for k, v := range rec.Headers {
		headers[k] = v
	}
	headers[HeaderDLQReason] = reason.Error()
	headers[HeaderDLQSourceTopic] = rec.Channel
	headers[HeaderDLQSourcePartition] = strconv.Itoa(rec.Partition)
	headers[HeaderDLQSourceOffset] = strconv.FormatInt(rec.Offset, 10)
	headers[HeaderDLQTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := p.publish(ctx, p.newMessage(ctx, topic, rec.Key, rec.Value, headers)); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

func (p *KafkaProducer) newMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) kafka.Message {
	kh := make([]kafka.Header, 0, len(headers)+2)
	for k, v := range headers {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	kh = tracing.InjectTraceContext(ctx, kh)

	return kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: kh,
		Time:    time.Now(),
	}
}

func (p *KafkaProducer) onSyncCompletion(msgs []kafka.Message, err error) {
	if err != nil {
		return
	}
	for _, m := range msgs {
		if loc, ok := m.WriterData.(*Location); ok {
			*loc = Location{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
		}
	}
}

func (p *KafkaProducer) onAsyncCompletion(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		if err != nil {
			metrics.IncKafkaMessagesWritten(p.serviceName, m.Topic, "error")
			p.logger.Warnw("Async publish failed",
				"topic", m.Topic,
				"key", string(m.Key),
				"error", err,
			)
			continue
		}
		metrics.IncKafkaMessagesWritten(p.serviceName, m.Topic, "ok")
		p.logger.Debugw("Async publish succeeded",
			"topic", m.Topic,
			"key", string(m.Key),
			"partition", m.Partition,
			"offset", m.Offset,
		)
	}
}

// Close flushes pending asynchronous messages before closing.
func (p *KafkaProducer) Close() error {
	return errors.Join(p.async.Close(), p.sync.Close())
}
