package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of events accepted by the ingest service (count)",
		},
		[]string{"mode", "status"},
	)

	IngestStreamInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_stream_in_flight",
			Help: "Number of unresolved wait-for-ack submissions across open streams (count)",
		},
	)

	IngestPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_publish_duration_ms",
			Help:    "Duration of acknowledged publishes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	SinkRecordsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_records_appended_total",
			Help: "Total number of decoded records appended to channel buffers (count)",
		},
		[]string{"channel"},
	)

	SinkFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_flushes_total",
			Help: "Total number of drained batches handed to a writer (count)",
		},
		[]string{"channel", "reason", "status"},
	)

	SinkBufferedRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sink_buffered_records",
			Help: "Records currently buffered per channel (count)",
		},
		[]string{"channel"},
	)

	SinkDecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_decode_errors_total",
			Help: "Total number of payloads that failed to decode (count)",
		},
		[]string{"format"},
	)

	SinkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sink_write_duration_ms",
			Help:    "Duration of parquet materialization in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"kind"},
	)

	SchemaRegistryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_requests_total",
			Help: "Total number of schema lookups by the tier that served them (count)",
		},
		[]string{"source", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic", "status"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

func RegisterIngestMetrics() {
	prometheus.MustRegister(IngestEventsTotal)
	prometheus.MustRegister(IngestStreamInFlight)
	prometheus.MustRegister(IngestPublishDuration)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterSinkMetrics() {
	prometheus.MustRegister(SinkRecordsAppendedTotal)
	prometheus.MustRegister(SinkFlushesTotal)
	prometheus.MustRegister(SinkBufferedRecords)
	prometheus.MustRegister(SinkDecodeErrorsTotal)
	prometheus.MustRegister(SinkWriteDuration)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterSchemaRegistryMetrics() {
	prometheus.MustRegister(SchemaRegistryRequestsTotal)
	prometheus.MustRegister(RetryAttemptsTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func IncIngestEvent(mode, status string) {
	IngestEventsTotal.WithLabelValues(mode, status).Inc()
}

func ObservePublishDuration(status string, duration time.Duration) {
	IngestPublishDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func AddRecordsAppended(channel string, n int) {
	SinkRecordsAppendedTotal.WithLabelValues(channel).Add(float64(n))
}

func IncFlush(channel, reason, status string) {
	SinkFlushesTotal.WithLabelValues(channel, reason, status).Inc()
}

func SetBufferedRecords(channel string, n int) {
	SinkBufferedRecords.WithLabelValues(channel).Set(float64(n))
}

func IncDecodeError(format string) {
	SinkDecodeErrorsTotal.WithLabelValues(format).Inc()
}

func ObserveWriteDuration(kind string, duration time.Duration) {
	SinkWriteDuration.WithLabelValues(kind).Observe(float64(duration.Milliseconds()))
}

func IncSchemaLookup(source, status string) {
	SchemaRegistryRequestsTotal.WithLabelValues(source, status).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic, status string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic, status).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
