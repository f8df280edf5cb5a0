package schemaregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"

	"rivulet/internal/config"
	"rivulet/internal/constants"
	"rivulet/internal/decoder"
	"rivulet/internal/logger"
	"rivulet/pkg/circuitbreaker"
	"rivulet/pkg/metrics"
	"rivulet/pkg/retry"
)

const contentType = "application/vnd.schemaregistry.v1+json"

var ErrSchemaNotFound = errors.New("schema not found in registry")

type schemaResponse struct {
	Schema string `json:"schema"`
}

type registerRequest struct {
	Schema string `json:"schema"`
}

type registerResponse struct {
	ID int `json:"id"`
}

// Client resolves schema ids through an in-process LRU, then the optional
// Redis cache, then the registry's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *lru.Cache
	redis   *redis.Client
	ttl     time.Duration
	policy  retry.Policy
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewClient(cfg config.SchemaRegistryConfig, rdb *redis.Client, ttl time.Duration, breaker *circuitbreaker.Wrapper, log logger.Logger) (*Client, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy = retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
		redis:   rdb,
		ttl:     ttl,
		policy:  policy,
		breaker: breaker,
		logger:  log,
	}, nil
}

// Schema implements decoder.SchemaSource.
func (c *Client) Schema(ctx context.Context, id int) (*decoder.Schema, error) {
	if cached, ok := c.cache.Get(id); ok {
		metrics.IncSchemaLookup("memory", "hit")
		return cached.(*decoder.Schema), nil
	}

	if spec, ok := c.fromRedis(ctx, id); ok {
		schema, err := decoder.ParseSchema(spec)
		if err == nil {
			metrics.IncSchemaLookup("redis", "hit")
			c.cache.Add(id, schema)
			return schema, nil
		}
		c.logger.WarnwCtx(ctx, "Discarding unparsable cached schema", "schema_id", id, "error", err)
	}

	var spec string
	err := c.do(ctx, func() error {
		var resp schemaResponse
		if err := c.request(ctx, http.MethodGet, "/schemas/ids/"+strconv.Itoa(id), nil, &resp); err != nil {
			return err
		}
		spec = resp.Schema
		return nil
	})
	if err != nil {
		metrics.IncSchemaLookup("http", "error")
		return nil, fmt.Errorf("schema id %d: %w", id, err)
	}
	metrics.IncSchemaLookup("http", "hit")

	schema, err := decoder.ParseSchema(spec)
	if err != nil {
		return nil, fmt.Errorf("schema id %d: %w", id, err)
	}

	c.cache.Add(id, schema)
	c.toRedis(ctx, id, spec)
	return schema, nil
}

// Register adds schema under subject and returns its id. Registering an
// identical schema again returns the existing id.
func (c *Client) Register(ctx context.Context, subject, schema string) (int, error) {
	var id int
	err := c.do(ctx, func() error {
		var resp registerResponse
		if err := c.request(ctx, http.MethodPost, "/subjects/"+subject+"/versions", registerRequest{Schema: schema}, &resp); err != nil {
			return err
		}
		id = resp.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("register subject %s: %w", subject, err)
	}

	c.logger.Infow("Registered schema", "subject", subject, "schema_id", id)
	return id, nil
}

func (c *Client) do(ctx context.Context, call func() error) error {
	return retry.RetryWithCallback(ctx, c.policy, func() error {
		if c.breaker == nil {
			return call()
		}
		err := c.breaker.Run(ctx, call)
		if circuitbreaker.IsOpenError(err) {
			return retry.NewFatalError(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("schema-registry", "request").Inc()
		c.logger.WarnwCtx(ctx, "Schema registry request failed, retrying",
			"attempt", attempt,
			"next_delay", next.String(),
			"error", err,
		)
	})
}

func (c *Client) request(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return retry.NewFatalError(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return retry.NewFatalError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", contentType)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.NewFatalError(ErrSchemaNotFound)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.NewFatalError(fmt.Errorf("registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	case resp.StatusCode >= 500:
		return fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func redisKey(id int) string {
	return constants.CacheKeyPrefixSchema + strconv.Itoa(id)
}

func (c *Client) fromRedis(ctx context.Context, id int) (string, bool) {
	if c.redis == nil {
		return "", false
	}

	val, err := c.redis.Get(ctx, redisKey(id)).Result()
	if err == redis.Nil {
		metrics.IncSchemaLookup("redis", "miss")
		return "", false
	}
	if err != nil {
		metrics.IncSchemaLookup("redis", "error")
		c.logger.WarnwCtx(ctx, "Redis schema lookup failed", "schema_id", id, "error", err)
		return "", false
	}
	return val, true
}

func (c *Client) toRedis(ctx context.Context, id int, spec string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, redisKey(id), spec, c.ttl).Err(); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to cache schema in redis", "schema_id", id, "error", err)
	}
}
