package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Broker: BrokerConfig{
			Type:  "kafka",
			Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}},
		},
	}
}

func TestValidateStatic(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "no brokers",
			mutate:  func(c *Config) { c.Broker.Kafka.Brokers = nil },
			wantErr: "broker.kafka.brokers",
		},
		{
			name:    "unknown broker",
			mutate:  func(c *Config) { c.Broker.Type = "rabbitmq" },
			wantErr: "broker.type",
		},
		{
			name: "mapping without channel",
			mutate: func(c *Config) {
				c.Sink.Mappings = []ChannelMapping{{Destination: "local"}}
			},
			wantErr: "sink.mappings[0].channel",
		},
		{
			name: "mapping with unknown destination",
			mutate: func(c *Config) {
				c.Sink.Mappings = []ChannelMapping{{Channel: "orders", Destination: "gcs"}}
			},
			wantErr: "sink.mappings[0].destination",
		},
		{
			name: "s3 mapping without bucket is resolved later",
			mutate: func(c *Config) {
				c.Sink.Mappings = []ChannelMapping{{Channel: "orders", Destination: "S3"}}
			},
		},
		{
			name:    "registry url without scheme",
			mutate:  func(c *Config) { c.SchemaRegistry.URL = "registry:8081" },
			wantErr: "schema_registry.url",
		},
		{
			name: "partial postgres",
			mutate: func(c *Config) {
				c.Database.Postgres = PostgresConfig{Host: "db", Port: 5432}
			},
			wantErr: "database.postgres.user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateStatic(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
