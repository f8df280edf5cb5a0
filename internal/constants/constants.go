package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixSchema = "schema:"
)

const (
	ShutdownTimeout   = 5 * time.Second
	FlushWriteTimeout = 2 * time.Minute
)

const (
	HeaderAckMode     = "x-ack-mode"
	HeaderMaxInFlight = "x-max-in-flight"
	HeaderRequestID   = "X-Request-ID"
)

const (
	StatusQueued = "queued"
	StatusAcked  = "acked"
	StatusFailed = "failed"
	StatusError  = "error"
)

const (
	FlushStatusWritten = "written"
	FlushStatusFailed  = "failed"
)

const (
	DestinationLocal = "local"
	DestinationS3    = "s3"
)

const (
	ServiceNameIngest = "ingest-service"
	ServiceNameSink   = "sink-service"
)

const (
	EventSchemaName = "com.example.events.Event"
	ParquetFileExt  = ".parquet"
)
