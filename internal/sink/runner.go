package sink

import (
	"context"
	"errors"
	"fmt"

	"rivulet/internal/broker"
	"rivulet/internal/logger"
)

type RecordConsumer interface {
	Consume(ctx context.Context, topics []string, handler broker.HandlerFunc) error
}

type Flusher interface {
	Shutdown(ctx context.Context) error
}

// Runner feeds consumed records through a pipeline and writes every buffered
// batch once the consumer has stopped.
type Runner struct {
	consumer RecordConsumer
	topics   []string
	pipeline *Pipeline
	engine   Flusher
	logger   logger.Logger
	done     chan struct{}
}

func NewRunner(consumer RecordConsumer, topics []string, pipeline *Pipeline, engine Flusher, log logger.Logger) *Runner {
	return &Runner{
		consumer: consumer,
		topics:   topics,
		pipeline: pipeline,
		engine:   engine,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Run blocks until the consumer returns, then drains the engine. Appends can
// only come from the consumer, so nothing is buffered after the final drain.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	err := r.consumer.Consume(ctx, r.topics, r.pipeline.Handle)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	r.logger.InfowCtx(ctx, "Consumer stopped, flushing buffered batches")
	if ferr := r.engine.Shutdown(context.WithoutCancel(ctx)); ferr != nil {
		err = errors.Join(err, fmt.Errorf("final flush error: %w", ferr))
	}
	return err
}

// Done is closed after Run has written the final flush.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
