package broker

import (
	"context"
	"time"
)

// Location is where the log persisted a message.
type Location struct {
	Topic     string
	Partition int
	Offset    int64
}

// Record is one consumed log entry. Channel is the source topic.
type Record struct {
	Channel   string
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

type Producer interface {
	// Publish blocks until the log acknowledges or rejects the message.
	Publish(ctx context.Context, topic string, key, value []byte) (Location, error)
	// PublishAsync enqueues the message; the outcome is only logged.
	PublishAsync(ctx context.Context, topic string, key, value []byte)
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topics []string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, rec Record) error
