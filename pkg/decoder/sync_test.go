package decoder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trace-decoder/pkg/registry"
)

func TestScheduleSyncPicksUpForeignEntries(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.ScheduleSync(50 * time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	entry, err := registry.Synthesize("ping()")
	require.NoError(t, err)

	// Another replica persists an entry this engine has never seen.
	require.NoError(t, f.store.AppendCustom(context.Background(), []registry.Entry{entry}))

	assert.Eventually(t, func() bool {
		return f.registry.Len() == 1
	}, 2*time.Second, 20*time.Millisecond)
}
