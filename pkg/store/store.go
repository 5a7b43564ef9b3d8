// Package store persists what the decoder learns: ABI entries, the addresses
// already looked up, and contract display names. Writes merge into existing
// state and never drop unrelated keys.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/registry"
)

const (
	TypeFile  = "file"
	TypeRedis = "redis"
)

// Store is the persistence boundary of the decoder.
type Store interface {
	// LoadEntries returns every stored entry: verified contract ABIs first,
	// then synthesized entries in the order they were appended.
	LoadEntries(ctx context.Context) ([]registry.Entry, error)
	// SaveABI stores the verified ABI of a contract.
	SaveABI(ctx context.Context, address string, entries []registry.Entry) error
	// AppendCustom appends synthesized entries.
	AppendCustom(ctx context.Context, entries []registry.Entry) error

	LoadAttempted(ctx context.Context) (map[string]time.Time, error)
	MarkAttempted(ctx context.Context, attempts map[string]time.Time) error

	LoadNames(ctx context.Context) (map[string]string, error)
	SaveNames(ctx context.Context, names map[string]string) error

	Close() error
}

// Config selects and configures the backend.
type Config struct {
	// Type is the backend: file or redis.
	Type string `yaml:"type" default:"file"`
	// Dir is the data directory of the file backend.
	Dir string `yaml:"dir" default:"./data"`
}

func (c *Config) Validate() error {
	switch c.Type {
	case TypeFile:
		if c.Dir == "" {
			return fmt.Errorf("store.dir is required for the file store")
		}
	case TypeRedis:
	default:
		return fmt.Errorf("invalid store type %q, must be '%s' or '%s'", c.Type, TypeFile, TypeRedis)
	}

	return nil
}

// New creates the configured backend. The redis client is only used by the redis backend.
func New(log logrus.FieldLogger, config *Config, client *redis.Client, prefix string) (Store, error) {
	switch config.Type {
	case TypeFile:
		return NewFileStore(log, config.Dir)
	case TypeRedis:
		if client == nil {
			return nil, fmt.Errorf("redis store requires a redis configuration")
		}

		return NewRedisStore(log, client, prefix), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", config.Type)
	}
}

// NormalizeAddress returns the key form of an address: 0x-prefixed and
// lower-cased. Strings that are not addresses are only trimmed and lower-cased.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)

	if common.IsHexAddress(address) {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}

	return strings.ToLower(address)
}
