// Package resolution tracks which contract addresses have already been looked
// up in the source verification API.
package resolution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/store"
)

// Cache is the set of attempted addresses. Once marked, an address stays
// attempted unless RetryAfter is set and the attempt has expired.
type Cache struct {
	log   logrus.FieldLogger
	store store.Store

	retryAfter time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	attempted map[string]time.Time
}

// New creates an empty cache. Call Load to restore persisted attempts.
func New(log logrus.FieldLogger, st store.Store, retryAfter time.Duration) *Cache {
	return &Cache{
		log:        log.WithField("component", "resolution"),
		store:      st,
		retryAfter: retryAfter,
		now:        time.Now,
		attempted:  make(map[string]time.Time),
	}
}

// Load merges the persisted attempts into memory, keeping the newest timestamp per address.
func (c *Cache) Load(ctx context.Context) error {
	persisted, err := c.store.LoadAttempted(ctx)
	if err != nil {
		return fmt.Errorf("failed to load attempted addresses: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, at := range persisted {
		addr = store.NormalizeAddress(addr)

		if existing, ok := c.attempted[addr]; !ok || at.After(existing) {
			c.attempted[addr] = at
		}
	}

	c.log.WithField("addresses", len(c.attempted)).Debug("Loaded attempted addresses")

	return nil
}

// Attempted reports whether address should be skipped by enrichment.
func (c *Cache) Attempted(address string) bool {
	c.mu.RLock()
	at, ok := c.attempted[store.NormalizeAddress(address)]
	c.mu.RUnlock()

	if !ok {
		return false
	}

	if c.retryAfter <= 0 {
		return true
	}

	return c.now().Sub(at) < c.retryAfter
}

// Filter returns the addresses that are not attempted, preserving order.
func (c *Cache) Filter(addresses []string) []string {
	out := make([]string, 0, len(addresses))

	for _, addr := range addresses {
		if !c.Attempted(addr) {
			out = append(out, addr)
		}
	}

	return out
}

// Mark records an attempt for every address and writes it through to the store.
// The in-memory set is updated even when persisting fails.
func (c *Cache) Mark(ctx context.Context, addresses ...string) error {
	if len(addresses) == 0 {
		return nil
	}

	now := c.now()
	batch := make(map[string]time.Time, len(addresses))

	c.mu.Lock()

	for _, addr := range addresses {
		addr = store.NormalizeAddress(addr)
		c.attempted[addr] = now
		batch[addr] = now
	}

	c.mu.Unlock()

	if err := c.store.MarkAttempted(ctx, batch); err != nil {
		return fmt.Errorf("failed to persist attempted addresses: %w", err)
	}

	return nil
}

// Len returns the number of addresses ever marked.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.attempted)
}
