package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/registry"
)

// RedisStore keeps state in redis so replicas share what they learn.
type RedisStore struct {
	log    logrus.FieldLogger
	client *redis.Client
	prefix string
}

func NewRedisStore(log logrus.FieldLogger, client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		log:    log.WithField("component", "store/redis"),
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) abisKey() string      { return s.prefix + ":abis" }
func (s *RedisStore) customKey() string    { return s.prefix + ":abis:custom" }
func (s *RedisStore) retrievedKey() string { return s.prefix + ":retrieved" }
func (s *RedisStore) namesKey() string     { return s.prefix + ":names" }

func (s *RedisStore) LoadEntries(ctx context.Context) ([]registry.Entry, error) {
	abis, err := s.client.HGetAll(ctx, s.abisKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load abis: %w", err)
	}

	addresses := make([]string, 0, len(abis))
	for addr := range abis {
		addresses = append(addresses, addr)
	}

	sort.Strings(addresses)

	var entries []registry.Entry

	for _, addr := range addresses {
		loaded, err := registry.ParseABI([]byte(abis[addr]))
		if err != nil {
			s.log.WithError(err).WithField("address", addr).Warn("Skipping unreadable abi")

			continue
		}

		entries = append(entries, loaded...)
	}

	custom, err := s.client.LRange(ctx, s.customKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load custom abi: %w", err)
	}

	for _, raw := range custom {
		var entry registry.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.log.WithError(err).Warn("Skipping unreadable custom entry")

			continue
		}

		if entry.Kind == "" {
			entry.Kind = registry.KindFunction
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *RedisStore) SaveABI(ctx context.Context, address string, entries []registry.Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	return s.client.HSet(ctx, s.abisKey(), NormalizeAddress(address), data).Err()
}

func (s *RedisStore) AppendCustom(ctx context.Context, entries []registry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]any, 0, len(entries))

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		values = append(values, data)
	}

	return s.client.RPush(ctx, s.customKey(), values...).Err()
}

func (s *RedisStore) LoadAttempted(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, s.retrievedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load attempted addresses: %w", err)
	}

	out := make(map[string]time.Time, len(raw))

	for addr, value := range raw {
		unix, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.log.WithField("address", addr).WithField("value", value).Warn("Invalid attempt time, treating as epoch")

			unix = 0
		}

		out[addr] = time.Unix(unix, 0)
	}

	return out, nil
}

func (s *RedisStore) MarkAttempted(ctx context.Context, attempts map[string]time.Time) error {
	if len(attempts) == 0 {
		return nil
	}

	values := make(map[string]any, len(attempts))
	for addr, at := range attempts {
		values[NormalizeAddress(addr)] = at.Unix()
	}

	return s.client.HSet(ctx, s.retrievedKey(), values).Err()
}

func (s *RedisStore) LoadNames(ctx context.Context) (map[string]string, error) {
	names, err := s.client.HGetAll(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load names: %w", err)
	}

	return names, nil
}

func (s *RedisStore) SaveNames(ctx context.Context, names map[string]string) error {
	if len(names) == 0 {
		return nil
	}

	values := make(map[string]any, len(names))
	for addr, name := range names {
		values[NormalizeAddress(addr)] = name
	}

	return s.client.HSet(ctx, s.namesKey(), values).Err()
}

// Close is a no-op, the client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
