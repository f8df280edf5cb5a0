package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rivulet/internal/decoder"
	"rivulet/internal/mapping"
)

type Writer interface {
	Write(ctx context.Context, batch *decoder.DecodedBatch, target mapping.WriteTarget) error
}

type TargetResolver interface {
	Resolve(channel string) (mapping.WriteTarget, error)
}

// FlushObserver is told about every flush attempt, written or failed.
type FlushObserver interface {
	FlushCompleted(ctx context.Context, f Flush)
}

type Reason string

const (
	ReasonCount        Reason = "count"
	ReasonInterval     Reason = "interval"
	ReasonSchemaChange Reason = "schema_change"
	ReasonShutdown     Reason = "shutdown"
)

type Flush struct {
	Channel    string
	Reason     Reason
	Target     mapping.WriteTarget
	Records    int
	SchemaName string
	Duration   time.Duration
	Err        error
}

// WriteError reports a drained batch the writer could not materialize. The
// batch is not re-buffered.
type WriteError struct {
	Channel     string
	Destination string
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed for channel %s to %s: %v", e.Channel, e.Destination, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type channelBuffer struct {
	mu         sync.Mutex
	schema     *decoder.Schema
	records    []decoder.Record
	lastAppend time.Time
}

// drainLocked snapshots and clears the records. The schema stays so a
// low-rate channel with a stable schema does not re-adopt on every flush.
// Caller holds mu.
func (b *channelBuffer) drainLocked() *decoder.DecodedBatch {
	if len(b.records) == 0 {
		return nil
	}

	drained := &decoder.DecodedBatch{
		Schema:  b.schema,
		Records: b.records,
	}
	b.records = nil
	b.lastAppend = time.Time{}
	return drained
}

type drainedBatch struct {
	batch  *decoder.DecodedBatch
	reason Reason
}
