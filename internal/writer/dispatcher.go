package writer

import (
	"context"
	"fmt"

	"rivulet/internal/decoder"
	"rivulet/internal/mapping"
)

// Dispatcher hands a batch to the writer matching the target's kind.
type Dispatcher struct {
	local *LocalWriter
	s3    *S3Writer
}

// NewDispatcher accepts a nil S3 writer when no bucket is configured;
// S3 targets then fail at write time.
func NewDispatcher(local *LocalWriter, s3 *S3Writer) *Dispatcher {
	return &Dispatcher{local: local, s3: s3}
}

func (d *Dispatcher) Write(ctx context.Context, batch *decoder.DecodedBatch, target mapping.WriteTarget) error {
	switch target.Kind {
	case mapping.KindLocal:
		return d.local.Write(ctx, batch, target.Path)
	case mapping.KindS3:
		if d.s3 == nil {
			return fmt.Errorf("s3 writer not configured for %s", target.Destination())
		}
		return d.s3.Write(ctx, batch, target.Bucket, target.Key)
	default:
		return fmt.Errorf("unknown write target kind %d", target.Kind)
	}
}
