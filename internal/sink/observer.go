package sink

import (
	"context"

	"rivulet/internal/batch"
	"rivulet/internal/constants"
	"rivulet/internal/logger"
	"rivulet/internal/manifest"
)

// ManifestObserver records every flush attempt in the manifest.
type ManifestObserver struct {
	recorder manifest.Recorder
	logger   logger.Logger
}

func NewManifestObserver(recorder manifest.Recorder, log logger.Logger) *ManifestObserver {
	return &ManifestObserver{recorder: recorder, logger: log}
}

func (o *ManifestObserver) FlushCompleted(ctx context.Context, f batch.Flush) {
	entry := manifest.Entry{
		Channel:     f.Channel,
		Destination: f.Target.Destination(),
		Kind:        f.Target.Kind.String(),
		Reason:      string(f.Reason),
		RecordCount: f.Records,
		SchemaName:  f.SchemaName,
		Status:      constants.FlushStatusWritten,
		Duration:    f.Duration,
	}
	if f.Err != nil {
		entry.Status = constants.FlushStatusFailed
		entry.Error = f.Err.Error()
	}

	// recorded even when ctx is already cancelled
	if err := o.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.WarnwCtx(ctx, "Failed to record flush in manifest",
			"destination", entry.Destination,
			"error", err,
		)
	}
}
