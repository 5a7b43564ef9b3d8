package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trace-decoder/internal/testutil"
	"github.com/ethpandaops/trace-decoder/pkg/redis"
	"github.com/ethpandaops/trace-decoder/pkg/store"
)

func newConfig(t *testing.T) *Config {
	t.Helper()

	config := &Config{}
	require.NoError(t, defaults.Set(config))

	config.Source.URL = "http://localhost:8000"
	config.Store.Dir = t.TempDir()

	return config
}

func TestConfigDefaults(t *testing.T) {
	config := newConfig(t)

	require.NoError(t, config.Validate())
	assert.Equal(t, ":8080", config.APIAddr)
	assert.Equal(t, "ethtxd", config.Source.Type)
	assert.Equal(t, store.TypeFile, config.Store.Type)
	assert.Equal(t, 8, config.Enrichment.Concurrency)
	assert.False(t, config.Prefetch.Enabled)
	assert.Empty(t, config.RedisPrefix())
}

func TestConfigValidate(t *testing.T) {
	t.Run("redis store needs redis", func(t *testing.T) {
		config := newConfig(t)
		config.Store.Type = store.TypeRedis

		assert.Error(t, config.Validate())

		config.Redis = &redis.Config{Address: "localhost:6379"}
		assert.NoError(t, config.Validate())
		assert.Equal(t, "trace-decoder", config.RedisPrefix())
	})

	t.Run("prefetch needs redis", func(t *testing.T) {
		config := newConfig(t)
		config.Prefetch.Enabled = true

		assert.Error(t, config.Validate())
	})

	t.Run("missing source url", func(t *testing.T) {
		config := newConfig(t)
		config.Source.URL = ""

		assert.Error(t, config.Validate())
	})
}

func TestNewServerServesAPI(t *testing.T) {
	s, err := NewServer(testutil.NewLogger(t), newConfig(t))
	require.NoError(t, err)

	assert.Nil(t, s.prefetch)
	assert.Nil(t, s.pprofServer)

	rec := httptest.NewRecorder()
	s.apiServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerWithRedisStore(t *testing.T) {
	client, _ := testutil.NewMiniredisClient(t)

	config := newConfig(t)
	config.Store.Type = store.TypeRedis
	config.Redis = &redis.Config{Address: client.Options().Addr}

	s, err := NewServer(testutil.NewLogger(t), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.redis.Close() })

	_, ok := s.store.(*store.RedisStore)
	assert.True(t, ok)
}
