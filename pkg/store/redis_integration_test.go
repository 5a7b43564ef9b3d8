//go:build integration

package store

import (
	"testing"

	"github.com/ethpandaops/trace-decoder/internal/testutil"
)

func TestRedisStoreIntegration(t *testing.T) {
	client := testutil.NewRedisContainer(t)

	runStoreSuite(t, func(t *testing.T) Store {
		t.Helper()

		return NewRedisStore(testutil.NewLogger(t), client, t.Name())
	})
}
