package decoder

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/ethpandaops/trace-decoder/pkg/common"
)

const syncTimeout = 30 * time.Second

// ScheduleSync reloads the engine from the store every interval, so replicas
// sharing a store see each other's learned entries. The caller stops the
// returned scheduler.
func (e *Engine) ScheduleSync(interval time.Duration) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.Local)

	if _, err := s.Every(interval).WaitForSchedule().Do(e.syncOnce); err != nil {
		return nil, fmt.Errorf("failed to schedule registry sync: %w", err)
	}

	s.StartAsync()

	e.log.WithField("interval", interval).Info("Scheduled registry sync")

	return s, nil
}

func (e *Engine) syncOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	if err := e.Sync(ctx); err != nil {
		common.RegistrySyncs.WithLabelValues("error").Inc()
		e.log.WithError(err).Warn("Failed to sync registry from store")

		return
	}

	common.RegistrySyncs.WithLabelValues("success").Inc()
}
