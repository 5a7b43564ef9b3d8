package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client from configuration
func New(config *Config) (*redis.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	if strings.HasPrefix(config.Address, "redis://") || strings.HasPrefix(config.Address, "rediss://") {
		opts, err := redis.ParseURL(config.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		if config.Password != "" {
			opts.Password = config.Password
		}

		if config.DB != 0 {
			opts.DB = config.DB
		}

		return redis.NewClient(opts), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	}), nil
}

// Ping checks the connection once at startup.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis at %s: %w", client.Options().Addr, err)
	}

	return nil
}
