package server

import (
	"fmt"
	"time"

	"github.com/ethpandaops/trace-decoder/pkg/decoder"
	"github.com/ethpandaops/trace-decoder/pkg/gateway"
	"github.com/ethpandaops/trace-decoder/pkg/prefetch"
	"github.com/ethpandaops/trace-decoder/pkg/redis"
	"github.com/ethpandaops/trace-decoder/pkg/source"
	"github.com/ethpandaops/trace-decoder/pkg/store"
)

type Config struct {
	// MetricsAddr is the address to listen on for metrics.
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	// HealthCheckAddr is the address to listen on for healthcheck.
	HealthCheckAddr *string `yaml:"healthCheckAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// APIAddr is the address the decoding API listens on.
	APIAddr string `yaml:"apiAddr" default:":8080"`
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// Source is where transaction traces come from.
	Source source.Config `yaml:"source"`
	// Gateway configures the external signature registries.
	Gateway gateway.Config `yaml:"gateway"`
	// Enrichment configures how unknown signatures are looked up.
	Enrichment decoder.Config `yaml:"enrichment"`
	// Store is where learned signatures are persisted.
	Store store.Config `yaml:"store"`
	// Redis is optional unless the redis store or prefetching is used.
	Redis *redis.Config `yaml:"redis"`
	// Prefetch configures background address lookups.
	Prefetch prefetch.Config `yaml:"prefetch"`
	// MemoryMonitor configures periodic memory sampling.
	MemoryMonitor MemoryMonitorConfig `yaml:"memoryMonitor"`
	// ShutdownTimeout is the timeout for shutting down the server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

func (c *Config) Validate() error {
	if c.APIAddr == "" {
		return fmt.Errorf("apiAddr is required")
	}

	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis configuration: %w", err)
		}
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("invalid source configuration: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("invalid gateway configuration: %w", err)
	}

	if err := c.Enrichment.Validate(); err != nil {
		return fmt.Errorf("invalid enrichment configuration: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store configuration: %w", err)
	}

	if c.Store.Type == store.TypeRedis && c.Redis == nil {
		return fmt.Errorf("redis configuration is required for the redis store")
	}

	if err := c.Prefetch.Validate(); err != nil {
		return fmt.Errorf("invalid prefetch configuration: %w", err)
	}

	if c.Prefetch.Enabled && c.Redis == nil {
		return fmt.Errorf("redis configuration is required for prefetching")
	}

	if err := c.MemoryMonitor.Validate(); err != nil {
		return fmt.Errorf("invalid memory monitor configuration: %w", err)
	}

	return nil
}

// RedisPrefix is the key prefix shared by the store and the prefetch queue.
func (c *Config) RedisPrefix() string {
	if c.Redis == nil {
		return ""
	}

	return c.Redis.Prefix
}
