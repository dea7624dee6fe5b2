package rebuild

import (
	"context"
	"time"

	"github.com/mwantia/lakesync/pkg/log"
)

// Scheduler rebuilds all accounts on a fixed interval.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   log.LoggerService

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(service *Service, interval time.Duration, logger log.LoggerService) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background loop. It does nothing for a non-positive
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Scheduled rebuilds every %s", s.interval)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Scheduled rebuilds stopped")
				return
			case <-ticker.C:
				if err := s.service.RebuildAll(ctx, TriggerSchedule); err != nil {
					s.logger.Warn("Scheduled rebuild finished with errors: %v", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for a running rebuild to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}
