package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/testquill/hookd/internal/config"
	"github.com/testquill/hookd/internal/storage"
)

// Scheduler periodically sweeps for due, non-exhausted deliveries and
// re-submits them to the worker. URL and secret come from the sweep-time
// join with the owning webhook, so registration changes made after a
// delivery was created take effect on its next retry; deliveries whose
// webhook has been deactivated are excluded by the same join.
type Scheduler struct {
	store    storage.Storage
	worker   *Worker
	workers  int
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(cfg config.DeliveryConfig, store storage.Storage, worker *Worker, log zerolog.Logger) *Scheduler {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		store:    store,
		worker:   worker,
		workers:  workers,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Int("workers", s.workers).Msg("starting retry scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()
}

func (s *Scheduler) Stop() {
	s.log.Info().Msg("stopping retry scheduler")
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("retry scheduler stopped")
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepDue(ctx)
		}
	}
}

// SweepDue runs a single sweep. Each due delivery is re-attempted on its
// own goroutine behind a bounded semaphore; one failing attempt never
// blocks the sweep of the rest.
func (s *Scheduler) SweepDue(ctx context.Context) {
	due, err := s.store.FindDueDeliveries(ctx, time.Now().UTC(), s.workers)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch due deliveries")
		return
	}
	if len(due) == 0 {
		return
	}

	s.log.Debug().Int("due", len(due)).Msg("sweeping due deliveries")

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, dd := range due {
		dd := dd
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Str("delivery_id", dd.ID).Msg("retry attempt panicked")
				}
				<-sem
			}()
			s.worker.Attempt(ctx, Task{
				DeliveryID: dd.ID,
				TenantID:   dd.TenantID,
				WebhookID:  dd.WebhookID,
				EventType:  dd.EventType,
				URL:        dd.URL,
				Secret:     dd.Secret,
				Payload:    dd.Payload,
			})
		}()
	}
	wg.Wait()
}
