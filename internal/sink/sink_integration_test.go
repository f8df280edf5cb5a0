//go:build integration

package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/batch"
	"rivulet/internal/broker"
	"rivulet/internal/config"
	"rivulet/internal/constants"
	"rivulet/internal/decoder"
	"rivulet/internal/logger"
	"rivulet/internal/manifest"
	"rivulet/internal/mapping"
	"rivulet/internal/testinfra"
	"rivulet/internal/writer"
	"rivulet/pkg/models"
)

func TestSink_KafkaToParquetWithManifest(t *testing.T) {
	brokers := testinfra.Kafka(t)
	db := testinfra.Postgres(t)
	dir := t.TempDir()
	log := logger.NopLogger()

	kafkaCfg := config.KafkaConfig{
		Brokers: brokers,
		GroupID: "rivulet-sink-it",
		Retry:   config.RetryConfig{MaxAttempts: 1},
	}
	sinkCfg := config.SinkConfig{
		SourceTopics: []string{"events"},
		DLQTopic:     "events-dlq",
		Batch:        config.BatchConfig{MaxRecords: 2},
		Local:        config.LocalConfig{BaseDir: dir},
		Mappings:     []config.ChannelMapping{{Channel: "events"}},
	}

	producer := broker.NewKafkaProducer(kafkaCfg, log)
	t.Cleanup(func() { producer.Close() })

	converter, err := writer.NewParquetConverter()
	require.NoError(t, err)

	recorder := manifest.NewPostgresRecorder(db, log)
	engine := batch.NewEngine(
		sinkCfg.Batch,
		mapping.NewResolver(sinkCfg, nil),
		writer.NewDispatcher(writer.NewLocalWriter(converter), nil),
		NewManifestObserver(recorder, log),
		nil,
		log,
	)
	pipeline := NewPipeline(decoder.NewComposite(nil), engine, log)

	consumer := broker.NewKafkaConsumer(kafkaCfg, sinkCfg.DLQTopic, producer, log)
	t.Cleanup(func() { consumer.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, id := range []string{"a", "b"} {
		_, err := producer.Publish(ctx, "events", []byte(id), containerPayload(t, models.Event{ID: id, TimestampMs: 1}))
		require.NoError(t, err)
	}
	_, err = producer.Publish(ctx, "events", []byte("bad"), []byte("not avro"))
	require.NoError(t, err)

	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(consumeCtx, sinkCfg.SourceTopics, pipeline.Handle)
	}()

	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(dir, "channel=events", "date=*", "*"+constants.ParquetFileExt))
		return len(matches) == 1
	}, time.Minute, 200*time.Millisecond)

	dlq := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: sinkCfg.DLQTopic})
	t.Cleanup(func() { dlq.Close() })
	msg, err := dlq.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("not avro"), msg.Value)

	stop()
	<-done

	entries, err := recorder.Recent(ctx, "events", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].RecordCount)
	assert.Equal(t, constants.FlushStatusWritten, entries[0].Status)
	assert.Equal(t, string(batch.ReasonCount), entries[0].Reason)
}
