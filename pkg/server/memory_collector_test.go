package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ethpandaops/trace-decoder/internal/testutil"
)

func TestMemoryLevel(t *testing.T) {
	m := NewMemoryStatsCollector(testutil.NewLogger(t), MemoryMonitorConfig{
		Enabled:             true,
		Interval:            time.Second,
		WarningThresholdMB:  100,
		CriticalThresholdMB: 200,
	})

	assert.Equal(t, "", m.level(50))
	assert.Equal(t, "warning", m.level(150))
	assert.Equal(t, "critical", m.level(250))
}

func TestMemoryCollectorRunStopsWithContext(t *testing.T) {
	m := NewMemoryStatsCollector(testutil.NewLogger(t), MemoryMonitorConfig{Enabled: true, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}

	assert.NotZero(t, m.maxAllocBytes)
}

func TestMemoryMonitorConfigValidate(t *testing.T) {
	assert.NoError(t, (&MemoryMonitorConfig{}).Validate())
	assert.Error(t, (&MemoryMonitorConfig{Enabled: true}).Validate())
	assert.Error(t, (&MemoryMonitorConfig{Enabled: true, Interval: time.Second, WarningThresholdMB: 10, CriticalThresholdMB: 5}).Validate())
}
