package schemaregistry

import (
	"errors"

	"rivulet/internal/config"
	"rivulet/pkg/circuitbreaker"
)

// NewBreaker trips on transport and server failures only; a missing schema is
// a valid answer from a healthy registry.
func NewBreaker(cfg config.CircuitBreakerConfig) *circuitbreaker.Wrapper {
	cbCfg := circuitbreaker.FromConfig("schema-registry", cfg)
	cbCfg.IsSuccessful = func(err error) bool {
		return errors.Is(err, ErrSchemaNotFound)
	}
	return circuitbreaker.NewWrapper(cbCfg)
}
