package bootstrap

import (
	"context"
	"fmt"

	"rivulet/internal/broker"
	"rivulet/internal/config"
	"rivulet/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitProducer(serviceName string) error {
	if b.Config.Broker.Type != "kafka" {
		return fmt.Errorf("unknown broker type: %s", b.Config.Broker.Type)
	}

	producer := broker.NewKafkaProducer(b.Config.Broker.Kafka, b.Logger)
	if serviceName != "" {
		producer.SetServiceName(serviceName)
	}
	b.Producer = producer
	return nil
}

// InitConsumer creates the consumer. The producer, when initialized first,
// doubles as the dead-letter writer for dlqTopic.
func (b *Base) InitConsumer(serviceName, dlqTopic string) error {
	if b.Config.Broker.Type != "kafka" {
		return fmt.Errorf("unknown broker type: %s", b.Config.Broker.Type)
	}
	if b.Config.Broker.Kafka.GroupID == "" {
		return fmt.Errorf("broker.kafka.group_id is required for consuming")
	}

	var dlq broker.DeadLetterWriter
	if w, ok := b.Producer.(broker.DeadLetterWriter); ok {
		dlq = w
	}

	consumer := broker.NewKafkaConsumer(b.Config.Broker.Kafka, dlqTopic, dlq, b.Logger)
	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}
	b.Consumer = consumer
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

// Shutdown runs additionalShutdown before closing the broker so that final
// flushes can still publish.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
