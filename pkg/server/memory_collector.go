package server

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/common"
)

const bytesPerMB = 1024 * 1024

type MemoryMonitorConfig struct {
	Enabled             bool          `yaml:"enabled" default:"false"`
	Interval            time.Duration `yaml:"interval" default:"1m"`
	WarningThresholdMB  uint64        `yaml:"warningThresholdMB" default:"2048"`
	CriticalThresholdMB uint64        `yaml:"criticalThresholdMB" default:"4096"`
}

func (c *MemoryMonitorConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Interval <= 0 {
		return fmt.Errorf("memoryMonitor.interval must be positive")
	}

	if c.CriticalThresholdMB < c.WarningThresholdMB {
		return fmt.Errorf("memoryMonitor.criticalThresholdMB must not be below warningThresholdMB")
	}

	return nil
}

// MemoryStatsCollector samples runtime memory statistics. Decoding very
// large transactions holds the whole annotated tree in memory, so spikes
// show up here first.
type MemoryStatsCollector struct {
	log    logrus.FieldLogger
	config MemoryMonitorConfig

	maxAllocBytes uint64
}

func NewMemoryStatsCollector(log logrus.FieldLogger, config MemoryMonitorConfig) *MemoryStatsCollector {
	return &MemoryStatsCollector{
		log:    log.WithField("component", "memory_stats_collector"),
		config: config,
	}
}

// Run samples until ctx is done.
func (m *MemoryStatsCollector) Run(ctx context.Context) {
	if !m.config.Enabled {
		return
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *MemoryStatsCollector) collect() {
	var stats runtime.MemStats

	runtime.ReadMemStats(&stats)

	common.MemoryUsage.WithLabelValues("alloc").Set(float64(stats.Alloc))
	common.MemoryUsage.WithLabelValues("sys").Set(float64(stats.Sys))
	common.MemoryUsage.WithLabelValues("heap_alloc").Set(float64(stats.HeapAlloc))
	common.GoroutineCount.Set(float64(runtime.NumGoroutine()))

	if stats.Alloc > m.maxAllocBytes {
		m.maxAllocBytes = stats.Alloc
	}

	allocMB := stats.Alloc / bytesPerMB

	fields := logrus.Fields{
		"alloc_mb":      allocMB,
		"heap_alloc_mb": stats.HeapAlloc / bytesPerMB,
		"sys_mb":        stats.Sys / bytesPerMB,
		"max_alloc_mb":  m.maxAllocBytes / bytesPerMB,
		"goroutines":    runtime.NumGoroutine(),
		"num_gc":        stats.NumGC,
	}

	switch level := m.level(allocMB); level {
	case "critical":
		common.MemoryPressureEvents.WithLabelValues(level).Inc()
		m.log.WithFields(fields).Error("Critical memory usage detected")
	case "warning":
		common.MemoryPressureEvents.WithLabelValues(level).Inc()
		m.log.WithFields(fields).Warn("High memory usage detected")
	default:
		m.log.WithFields(fields).Debug("Memory usage summary")
	}
}

func (m *MemoryStatsCollector) level(allocMB uint64) string {
	switch {
	case allocMB > m.config.CriticalThresholdMB:
		return "critical"
	case allocMB > m.config.WarningThresholdMB:
		return "warning"
	default:
		return ""
	}
}
