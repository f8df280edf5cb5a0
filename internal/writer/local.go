package writer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"rivulet/internal/constants"
	"rivulet/internal/decoder"
	"rivulet/pkg/metrics"
)

// BatchEncoder serializes one decoded batch into a columnar file body.
type BatchEncoder interface {
	Write(batch *decoder.DecodedBatch, w io.Writer) error
}

type LocalWriter struct {
	encoder BatchEncoder
}

func NewLocalWriter(encoder BatchEncoder) *LocalWriter {
	return &LocalWriter{encoder: encoder}
}

// Write creates parent directories as needed. A partially written file is
// removed before the error is returned.
func (w *LocalWriter) Write(ctx context.Context, batch *decoder.DecodedBatch, path string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		if err == nil {
			metrics.ObserveWriteDuration(constants.DestinationLocal, time.Since(start))
		}
	}()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := encodeTo(w.encoder, batch, f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func encodeTo(encoder BatchEncoder, batch *decoder.DecodedBatch, f *os.File) error {
	bw := bufio.NewWriter(f)
	if err := encoder.Write(batch, bw); err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", f.Name(), err)
	}
	return nil
}
