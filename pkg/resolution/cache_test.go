package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trace-decoder/internal/testutil"
	"github.com/ethpandaops/trace-decoder/pkg/store"
)

func newFileStore(t *testing.T) store.Store {
	t.Helper()

	s, err := store.NewFileStore(testutil.NewLogger(t), t.TempDir())
	require.NoError(t, err)

	return s
}

func TestMarkIsMonotonic(t *testing.T) {
	ctx := context.Background()
	c := New(testutil.NewLogger(t), newFileStore(t), 0)

	assert.False(t, c.Attempted("0xAA"))

	require.NoError(t, c.Mark(ctx, "0xAA"))
	assert.True(t, c.Attempted("0xaa"))
	assert.True(t, c.Attempted("0xAA"))

	require.NoError(t, c.Mark(ctx, "0xbb"))
	assert.True(t, c.Attempted("0xaa"), "earlier marks survive later ones")
	assert.Equal(t, 2, c.Len())
}

func TestFilterPreservesOrder(t *testing.T) {
	ctx := context.Background()
	c := New(testutil.NewLogger(t), newFileStore(t), 0)

	require.NoError(t, c.Mark(ctx, "0xbb"))

	assert.Equal(t, []string{"0xcc", "0xaa"}, c.Filter([]string{"0xcc", "0xbb", "0xaa"}))
	assert.Empty(t, c.Filter(nil))
}

func TestLoadRestoresPersistedAttempts(t *testing.T) {
	ctx := context.Background()
	st := newFileStore(t)

	first := New(testutil.NewLogger(t), st, 0)
	require.NoError(t, first.Mark(ctx, "0xAA", "0xbb"))

	second := New(testutil.NewLogger(t), st, 0)
	require.NoError(t, second.Load(ctx))

	assert.True(t, second.Attempted("0xaa"))
	assert.True(t, second.Attempted("0xbb"))
	assert.False(t, second.Attempted("0xcc"))
}

func TestRetryAfter(t *testing.T) {
	ctx := context.Background()
	c := New(testutil.NewLogger(t), newFileStore(t), time.Hour)

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Mark(ctx, "0xaa"))
	assert.True(t, c.Attempted("0xaa"))

	now = now.Add(59 * time.Minute)
	assert.True(t, c.Attempted("0xaa"))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.Attempted("0xaa"), "expired attempts are retried")
	assert.Equal(t, []string{"0xaa"}, c.Filter([]string{"0xaa"}))
}

func TestLegacyAttemptsNeverExpireWithoutPolicy(t *testing.T) {
	ctx := context.Background()
	st := newFileStore(t)

	require.NoError(t, st.MarkAttempted(ctx, map[string]time.Time{"0xaa": time.Unix(0, 0)}))

	c := New(testutil.NewLogger(t), st, 0)
	require.NoError(t, c.Load(ctx))

	assert.True(t, c.Attempted("0xaa"))
}
