package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"rivulet/internal/config"
	"rivulet/internal/constants"
	"rivulet/internal/decoder"
	"rivulet/internal/logger"
	"rivulet/pkg/logging"
	"rivulet/pkg/metrics"
)

// Engine owns one buffer per channel. Buffers are created on first append
// and live for the life of the process.
type Engine struct {
	buffers  sync.Map
	cfg      config.BatchConfig
	resolver TargetResolver
	writer   Writer
	observer FlushObserver
	clock    clock.WithTicker
	logger   logger.Logger
}

func NewEngine(cfg config.BatchConfig, resolver TargetResolver, writer Writer, observer FlushObserver, clk clock.WithTicker, log logger.Logger) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		writer:   writer,
		observer: observer,
		clock:    clk,
		logger:   log,
	}
}

func (e *Engine) buffer(channel string) *channelBuffer {
	if v, ok := e.buffers.Load(channel); ok {
		return v.(*channelBuffer)
	}
	v, _ := e.buffers.LoadOrStore(channel, &channelBuffer{})
	return v.(*channelBuffer)
}

// Append buffers the batch for channel. Batches drained by a schema change or
// by reaching the record threshold are written after the buffer lock is
// released; the first write failure is returned.
func (e *Engine) Append(ctx context.Context, channel string, batch *decoder.DecodedBatch) error {
	if batch.IsEmpty() {
		return nil
	}

	buf := e.buffer(channel)
	pending := make([]drainedBatch, 0, 2)

	buf.mu.Lock()
	if buf.schema != nil && !buf.schema.Equal(batch.Schema) {
		if d := buf.drainLocked(); d != nil {
			pending = append(pending, drainedBatch{batch: d, reason: ReasonSchemaChange})
		}
		buf.schema = nil
	}
	if buf.schema == nil {
		buf.schema = batch.Schema
	}

	buf.records = append(buf.records, batch.Records...)
	buf.lastAppend = e.clock.Now()

	if e.cfg.MaxRecords > 0 && len(buf.records) >= e.cfg.MaxRecords {
		pending = append(pending, drainedBatch{batch: buf.drainLocked(), reason: ReasonCount})
	}
	buffered := len(buf.records)
	buf.mu.Unlock()

	metrics.AddRecordsAppended(channel, batch.Len())
	metrics.SetBufferedRecords(channel, buffered)

	var firstErr error
	for _, d := range pending {
		if err := e.write(ctx, channel, d.batch, d.reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Drain removes and returns the channel's buffered records, or nil when the
// buffer is empty or unknown.
func (e *Engine) Drain(channel string) *decoder.DecodedBatch {
	v, ok := e.buffers.Load(channel)
	if !ok {
		return nil
	}
	buf := v.(*channelBuffer)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.drainLocked()
}

func (e *Engine) Pending(channel string) int {
	v, ok := e.buffers.Load(channel)
	if !ok {
		return 0
	}
	buf := v.(*channelBuffer)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.records)
}

// Run drives the time-based trigger until ctx is done. A non-positive flush
// interval disables it.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.FlushInterval
	if interval <= 0 {
		e.logger.Infow("Time-based flush disabled")
		<-ctx.Done()
		return nil
	}

	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Infow("Batch flush ticker started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			e.flushIdle(ctx, interval)
		}
	}
}

func (e *Engine) flushIdle(ctx context.Context, interval time.Duration) {
	now := e.clock.Now()

	e.buffers.Range(func(key, value interface{}) bool {
		channel := key.(string)
		buf := value.(*channelBuffer)

		var drained *decoder.DecodedBatch
		buf.mu.Lock()
		if len(buf.records) > 0 && now.Sub(buf.lastAppend) >= interval {
			drained = buf.drainLocked()
		}
		buf.mu.Unlock()

		if drained != nil {
			_ = e.write(ctx, channel, drained, ReasonInterval)
		}
		return true
	})
}

// Shutdown drains and writes every non-empty buffer.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	e.buffers.Range(func(key, value interface{}) bool {
		channel := key.(string)
		buf := value.(*channelBuffer)

		buf.mu.Lock()
		drained := buf.drainLocked()
		buf.mu.Unlock()

		if drained != nil {
			if err := e.write(ctx, channel, drained, ReasonShutdown); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})

	return errors.Join(errs...)
}

// write persists a drained batch. Drained records exist nowhere else, so the
// write outlives the caller's cancellation and is bounded by FlushWriteTimeout.
func (e *Engine) write(ctx context.Context, channel string, batch *decoder.DecodedBatch, reason Reason) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.FlushWriteTimeout)
	defer cancel()
	ctx = logging.WithChannel(ctx, channel)
	start := e.clock.Now()

	flush := Flush{
		Channel:    channel,
		Reason:     reason,
		Records:    batch.Len(),
		SchemaName: batch.Schema.Name(),
	}

	target, err := e.resolver.Resolve(channel)
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to resolve write target, dropping batch",
			"reason", string(reason),
			"records", flush.Records,
			"error", err,
		)
		flush.Err = err
		e.finish(ctx, flush, start)
		return err
	}
	flush.Target = target

	if err := e.writer.Write(ctx, batch, target); err != nil {
		werr := &WriteError{
			Channel:     channel,
			Destination: target.Destination(),
			Err:         err,
		}
		e.logger.ErrorwCtx(ctx, "Failed to write batch, dropping it",
			"reason", string(reason),
			"destination", werr.Destination,
			"records", flush.Records,
			"error", err,
		)
		flush.Err = werr
		e.finish(ctx, flush, start)
		return werr
	}

	e.logger.InfowCtx(ctx, "Flushed batch",
		"reason", string(reason),
		"destination", target.Destination(),
		"records", flush.Records,
		"schema", flush.SchemaName,
	)
	e.finish(ctx, flush, start)
	return nil
}

func (e *Engine) finish(ctx context.Context, flush Flush, start time.Time) {
	flush.Duration = e.clock.Since(start)

	status := constants.FlushStatusWritten
	if flush.Err != nil {
		status = constants.FlushStatusFailed
	}
	metrics.IncFlush(flush.Channel, string(flush.Reason), status)
	metrics.SetBufferedRecords(flush.Channel, e.Pending(flush.Channel))

	if e.observer != nil {
		e.observer.FlushCompleted(ctx, flush)
	}
}
