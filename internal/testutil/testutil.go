// Package testutil provides test helper utilities for unit and integration tests.
package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// NewLogger returns a logger that discards output.
func NewLogger(t *testing.T) logrus.FieldLogger {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// NewMiniredisClient creates a Redis client connected to an in-memory miniredis server.
// Both the server and client are automatically cleaned up when the test completes.
func NewMiniredisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, s
}

// NewRedisContainer creates a real Redis container for integration tests.
// The container is automatically cleaned up when the test completes.
func NewRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	testcontainers.CleanupContainer(t, c)

	connStr, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	opts, err := redis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("failed to parse redis connection string: %v", err)
	}

	client := redis.NewClient(opts)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
