package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "0s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.required_acks", "all")
	viper.SetDefault("broker.kafka.batch_timeout", "10ms")
	viper.SetDefault("broker.kafka.write_timeout", "10s")
	viper.SetDefault("broker.kafka.min_bytes", 1)
	viper.SetDefault("broker.kafka.max_bytes", 10_000_000)
	viper.SetDefault("broker.kafka.retry.max_attempts", 1)

	viper.SetDefault("ingest.events_topic", "events")
	viper.SetDefault("ingest.registry_topic", "events-v2")
	viper.SetDefault("ingest.max_line_bytes", 1<<20)
	viper.SetDefault("ingest.rate_limit.rps", 1000)
	viper.SetDefault("ingest.rate_limit.burst", 2000)
	viper.SetDefault("ingest.rate_limit.cleanup_interval", "1m")
	viper.SetDefault("ingest.rate_limit.max_age", "5m")

	viper.SetDefault("sink.dlq_topic", "rivulet-sink-dlq")
	viper.SetDefault("sink.batch.max_records", 500)
	viper.SetDefault("sink.batch.flush_interval", "30s")
	viper.SetDefault("sink.local.base_dir", "/tmp/rivulet-sink")
	viper.SetDefault("sink.s3.region", "us-east-1")

	viper.SetDefault("schema_registry.subject", "events-value")
	viper.SetDefault("schema_registry.cache_size", 256)
	viper.SetDefault("schema_registry.timeout", "5s")
	viper.SetDefault("schema_registry.retry.max_attempts", 3)
	viper.SetDefault("schema_registry.retry.initial_interval", "100ms")
	viper.SetDefault("schema_registry.retry.max_interval", "2s")
	viper.SetDefault("schema_registry.retry.multiplier", 2.0)

	viper.SetDefault("database.redis.ttl_seconds", 3600)
	viper.SetDefault("database.postgres.sslmode", "disable")

	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("tracing.sampler.type", "parentbased_always_on")
	viper.SetDefault("tracing.sampler.param", 1.0)
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")

	viper.BindEnv("ingest.events_topic", "INGEST_EVENTS_TOPIC")
	viper.BindEnv("ingest.registry_topic", "INGEST_REGISTRY_TOPIC")

	viper.BindEnv("sink.dlq_topic", "SINK_DLQ_TOPIC")
	viper.BindEnv("sink.batch.max_records", "SINK_BATCH_MAX_RECORDS")
	viper.BindEnv("sink.batch.flush_interval", "SINK_BATCH_FLUSH_INTERVAL")
	viper.BindEnv("sink.local.base_dir", "SINK_LOCAL_BASE_DIR")
	viper.BindEnv("sink.s3.region", "SINK_S3_REGION")
	viper.BindEnv("sink.s3.bucket", "SINK_S3_BUCKET")
	viper.BindEnv("sink.s3.prefix", "SINK_S3_PREFIX")
	viper.BindEnv("sink.s3.endpoint", "SINK_S3_ENDPOINT")
	viper.BindEnv("sink.s3.path_style", "SINK_S3_PATH_STYLE")
	viper.BindEnv("sink.s3.access_key_id", "SINK_S3_ACCESS_KEY_ID")
	viper.BindEnv("sink.s3.secret_access_key", "SINK_S3_SECRET_ACCESS_KEY")

	viper.BindEnv("schema_registry.url", "SCHEMA_REGISTRY_URL")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles list-valued variables that viper does not split on its own.
func applyEnvOverrides(cfg *Config) error {
	if brokers := splitList(viper.GetString("BROKER_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Broker.Kafka.Brokers = brokers
	}

	if topics := splitList(viper.GetString("SINK_SOURCE_TOPICS")); len(topics) > 0 {
		cfg.Sink.SourceTopics = topics
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
