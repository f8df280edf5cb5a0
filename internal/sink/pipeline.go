package sink

import (
	"context"
	"errors"
	"fmt"

	"rivulet/internal/broker"
	"rivulet/internal/decoder"
	"rivulet/internal/logger"
	"rivulet/pkg/retry"
)

var ErrEmptyChannel = errors.New("record has no channel")

type Appender interface {
	Append(ctx context.Context, channel string, batch *decoder.DecodedBatch) error
}

// Pipeline decodes consumed records and appends them to the channel named by
// their source topic.
type Pipeline struct {
	decoder decoder.Decoder
	engine  Appender
	logger  logger.Logger
}

func NewPipeline(dec decoder.Decoder, engine Appender, log logger.Logger) *Pipeline {
	return &Pipeline{
		decoder: dec,
		engine:  engine,
		logger:  log,
	}
}

// Handle is a broker.HandlerFunc. Undecodable payloads come back fatal so the
// consumer dead-letters them without retrying. Write failures of flushed
// batches are already recorded by the engine and do not fail the record.
func (p *Pipeline) Handle(ctx context.Context, rec broker.Record) error {
	if rec.Channel == "" {
		return retry.NewFatalError(ErrEmptyChannel)
	}

	batch, err := p.decoder.Decode(ctx, rec.Value)
	if err != nil {
		return retry.NewFatalError(fmt.Errorf("offset %d: %w", rec.Offset, err))
	}

	if err := p.engine.Append(ctx, rec.Channel, batch); err != nil {
		p.logger.WarnwCtx(ctx, "Flush triggered by append failed",
			"offset", rec.Offset,
			"error", err,
		)
	}
	return nil
}
