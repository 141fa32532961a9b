package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scanner periodically lists users with pending work and spawns a collector
// for each user that does not already have one.
type Scanner struct {
	queue        ImageQueue
	states       ItemStates
	dispatcher   *Dispatcher
	registry     *Registry
	collectorCfg CollectorConfig
	interval     time.Duration
	logger       zerolog.Logger
	wg           sync.WaitGroup
}

// NewScanner creates a scanner.
func NewScanner(q ImageQueue, states ItemStates, d *Dispatcher, r *Registry, collectorCfg CollectorConfig, interval time.Duration, logger zerolog.Logger) *Scanner {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	return &Scanner{
		queue:        q,
		states:       states,
		dispatcher:   d,
		registry:     r,
		collectorCfg: collectorCfg,
		interval:     interval,
		logger:       logger.With().Str("component", "scanner").Logger(),
	}
}

// Run scans until the context is cancelled, then waits for all spawned
// collectors to stop.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Scanner started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("Scanner stopped")
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	users, err := s.queue.ActiveUsers(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Failed to list active users")
		}
		return
	}

	for _, userID := range users {
		if !s.registry.TryAcquire(userID) {
			continue
		}
		collector := NewCollector(userID, s.queue, s.states, s.dispatcher, s.collectorCfg, s.logger)
		s.wg.Add(1)
		go func(userID int64) {
			defer s.wg.Done()
			defer s.registry.Release(userID)
			collector.Run(ctx)
		}(userID)
		s.logger.Info().Int64("user_id", userID).Msg("Collector spawned")
	}
}
