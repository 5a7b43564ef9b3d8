// Package prefetch resolves contract addresses in the background so that the
// first trace touching them does not pay for the lookup.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/common"
	"github.com/ethpandaops/trace-decoder/pkg/decoder"
)

type Config struct {
	Enabled     bool          `yaml:"enabled" default:"false"`
	Queue       string        `yaml:"queue" default:"prefetch"`
	Concurrency int           `yaml:"concurrency" default:"4"`
	MaxRetry    int           `yaml:"maxRetry" default:"3"`
	Timeout     time.Duration `yaml:"timeout" default:"2m"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Queue == "" {
		return fmt.Errorf("prefetch.queue is required")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("prefetch.concurrency must be at least 1")
	}

	return nil
}

// Enricher is the part of the decoder the worker needs.
type Enricher interface {
	EnrichAddresses(ctx context.Context, addresses []string) decoder.Report
}

// Manager enqueues prefetch tasks and runs the worker that processes them.
type Manager struct {
	log      logrus.FieldLogger
	config   *Config
	enricher Enricher
	queue    string

	client *asynq.Client
	server *asynq.Server
}

func NewManager(log logrus.FieldLogger, config *Config, enricher Enricher, redis *r.Client, redisPrefix string) *Manager {
	asynqRedisOpt := redisClientOpt(redis)

	queue := QueueName(redisPrefix, config.Queue)

	return &Manager{
		log:      log.WithField("component", "prefetch"),
		config:   config,
		enricher: enricher,
		queue:    queue,
		client:   asynq.NewClient(asynqRedisOpt),
		server: asynq.NewServer(asynqRedisOpt, asynq.Config{
			Concurrency: config.Concurrency,
			Queues:      map[string]int{queue: 1},
			LogLevel:    asynq.InfoLevel,
			Logger:      log,
		}),
	}
}

// redisClientOpt points asynq at the same server as client. Asynq keeps its
// own connections so shutdown order does not matter.
func redisClientOpt(client *r.Client) asynq.RedisClientOpt {
	opt := client.Options()

	return asynq.RedisClientOpt{
		Network:   opt.Network,
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}
}

// QueueName namespaces the queue under the redis prefix.
func QueueName(redisPrefix, queue string) string {
	return fmt.Sprintf("%s:%s", redisPrefix, queue)
}

// Start runs the worker until Stop is called.
func (m *Manager) Start(_ context.Context) error {
	mux := asynq.NewServeMux()

	for taskType, handler := range m.GetHandlers() {
		mux.HandleFunc(taskType, handler)

		m.log.WithField("task_type", taskType).Info("Registered task handler")
	}

	if err := m.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start prefetch worker: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"queue":       m.queue,
		"concurrency": m.config.Concurrency,
	}).Info("Prefetch worker started")

	return nil
}

func (m *Manager) Stop(_ context.Context) error {
	m.server.Shutdown()

	return m.client.Close()
}

// Enqueue schedules a lookup of address. A lookup already pending for the
// same address is not duplicated.
func (m *Manager) Enqueue(ctx context.Context, address string) error {
	task, err := NewAddressPrefetchTask(address)
	if err != nil {
		return err
	}

	_, err = m.client.EnqueueContext(ctx, task,
		asynq.Queue(m.queue),
		asynq.TaskID(taskID(address)),
		asynq.MaxRetry(m.config.MaxRetry),
		asynq.Timeout(m.config.Timeout),
	)

	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		m.log.WithField("address", address).Debug("Prefetch already pending")

		return nil
	case err != nil:
		return fmt.Errorf("failed to enqueue prefetch: %w", err)
	}

	common.TasksEnqueued.WithLabelValues(m.queue, AddressPrefetchTaskType).Inc()

	return nil
}

// GetHandlers returns the task handlers of the worker.
func (m *Manager) GetHandlers() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		AddressPrefetchTaskType: m.handleAddressPrefetch,
	}
}

func (m *Manager) handleAddressPrefetch(ctx context.Context, task *asynq.Task) error {
	var payload AddressPayload
	if err := payload.UnmarshalBinary(task.Payload()); err != nil {
		common.TasksProcessed.WithLabelValues(m.queue, task.Type(), "unmarshal_error").Inc()

		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	report := m.enricher.EnrichAddresses(ctx, []string{payload.Address})

	common.TasksProcessed.WithLabelValues(m.queue, task.Type(), "success").Inc()

	m.log.WithFields(report.Fields()).WithField("address", payload.Address).Debug("Prefetched address")

	return nil
}
