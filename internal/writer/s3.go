package writer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"rivulet/internal/constants"
	"rivulet/internal/decoder"
	"rivulet/internal/logger"
	"rivulet/pkg/circuitbreaker"
	"rivulet/pkg/metrics"
)

const tempFilePattern = "rivulet-sink-*" + constants.ParquetFileExt

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer stages each batch in a temp file and uploads it in one PutObject.
type S3Writer struct {
	client  ObjectPutter
	encoder BatchEncoder
	breaker *circuitbreaker.Wrapper
	tempDir string
	logger  logger.Logger
}

func NewS3Writer(client ObjectPutter, encoder BatchEncoder, breaker *circuitbreaker.Wrapper, log logger.Logger) *S3Writer {
	return &S3Writer{
		client:  client,
		encoder: encoder,
		breaker: breaker,
		logger:  log,
	}
}

// Write removes the temp file on every return path.
func (w *S3Writer) Write(ctx context.Context, batch *decoder.DecodedBatch, bucket, key string) error {
	tmp, err := os.CreateTemp(w.tempDir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.WarnwCtx(ctx, "Failed to remove temp file", "path", tmp.Name(), "error", rmErr)
		}
	}()

	if err := encodeTo(w.encoder, batch, tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind temp file: %w", err)
	}

	start := time.Now()
	upload := func() error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        tmp,
			ContentType: aws.String("application/vnd.apache.parquet"),
		})
		return err
	}

	if w.breaker != nil {
		err = w.breaker.Run(ctx, upload)
	} else {
		err = upload()
	}
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}

	metrics.ObserveWriteDuration(constants.DestinationS3, time.Since(start))
	return nil
}
