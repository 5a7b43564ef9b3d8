package prefetch

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trace-decoder/internal/testutil"
	"github.com/ethpandaops/trace-decoder/pkg/decoder"
)

type recordingEnricher struct {
	mu        sync.Mutex
	addresses []string
}

func (e *recordingEnricher) EnrichAddresses(_ context.Context, addresses []string) decoder.Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.addresses = append(e.addresses, addresses...)

	return decoder.Report{UnresolvedAddresses: len(addresses)}
}

func newTestManager(t *testing.T, enricher Enricher) *Manager {
	t.Helper()

	client, _ := testutil.NewMiniredisClient(t)

	m := NewManager(testutil.NewLogger(t), &Config{Enabled: true, Queue: "prefetch", Concurrency: 1}, enricher, client, "test")

	t.Cleanup(func() {
		_ = m.client.Close()
	})

	return m
}

func TestNewAddressPrefetchTask(t *testing.T) {
	task, err := NewAddressPrefetchTask("0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	assert.Equal(t, AddressPrefetchTaskType, task.Type())

	var payload AddressPayload
	require.NoError(t, payload.UnmarshalBinary(task.Payload()))
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", payload.Address)

	_, err = NewAddressPrefetchTask("not-an-address")
	assert.Error(t, err)
}

func TestNewAddressPrefetchTaskWithoutPrefix(t *testing.T) {
	task, err := NewAddressPrefetchTask("00000000000000000000000000000000000000Bb")
	require.NoError(t, err)

	var payload AddressPayload
	require.NoError(t, payload.UnmarshalBinary(task.Payload()))
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", payload.Address, "keyed like addresses found in traces")
}

func TestTaskIDIsCanonical(t *testing.T) {
	const address = "0x00000000000000000000000000000000000000aa"

	assert.Equal(t, taskID(address), taskID("0x00000000000000000000000000000000000000AA"))
	assert.Equal(t, taskID(address), taskID("00000000000000000000000000000000000000aa"))
}

func TestHandleAddressPrefetch(t *testing.T) {
	enricher := &recordingEnricher{}
	m := newTestManager(t, enricher)

	task, err := NewAddressPrefetchTask("0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)

	handler, ok := m.GetHandlers()[AddressPrefetchTaskType]
	require.True(t, ok)

	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000bb"}, enricher.addresses)
}

func TestHandleAddressPrefetchBadPayload(t *testing.T) {
	m := newTestManager(t, &recordingEnricher{})

	err := m.handleAddressPrefetch(context.Background(), asynq.NewTask(AddressPrefetchTaskType, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "trace-decoder:prefetch", QueueName("trace-decoder", "prefetch"))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate(), "disabled config is not checked")
	assert.NoError(t, (&Config{Enabled: true, Queue: "q", Concurrency: 1}).Validate())
	assert.Error(t, (&Config{Enabled: true, Concurrency: 1}).Validate())
	assert.Error(t, (&Config{Enabled: true, Queue: "q"}).Validate())
}

func TestRedisClientOptKeepsConnectionSettings(t *testing.T) {
	client := r.NewClient(&r.Options{
		Addr:      "redis.example:6380",
		Username:  "decoder",
		Password:  "secret",
		DB:        4,
		TLSConfig: &tls.Config{ServerName: "redis.example", MinVersion: tls.VersionTLS12},
	})
	t.Cleanup(func() { _ = client.Close() })

	opt := redisClientOpt(client)

	assert.Equal(t, "redis.example:6380", opt.Addr)
	assert.Equal(t, "decoder", opt.Username)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 4, opt.DB)
	require.NotNil(t, opt.TLSConfig)
	assert.Equal(t, "redis.example", opt.TLSConfig.ServerName)
}
