/*
sweeper.go - Background expiration sweep scheduler

PURPOSE:
  Periodically runs the credit expiration sweep so overdue cashback and
  point lots are written off without manual intervention. The manual
  /api/admin/sweep endpoint shares the same loyalty.Sweeper; the
  per-lot idempotency keys make overlapping runs harmless.

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled:  Whether the scheduler runs (default: true)

USAGE:
  scheduler := NewSweepScheduler(handler.Sweeper, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - loyalty/expiry.go: Sweep implementation
  - handlers.go: TriggerSweep endpoint (manual sweep)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// SweepScheduler runs the expiration sweep on a fixed interval.
type SweepScheduler struct {
	Sweeper  *loyalty.Sweeper
	Interval time.Duration
	Enabled  bool
	Log      zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a scheduler with the default hourly interval.
func NewSweepScheduler(sweeper *loyalty.Sweeper, log zerolog.Logger) *SweepScheduler {
	return &SweepScheduler{
		Sweeper:  sweeper,
		Interval: 1 * time.Hour,
		Enabled:  true,
		Log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info().Msg("sweep scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run(s.ticker)

	s.Log.Info().Dur("interval", s.Interval).Msg("sweep scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
// Safe to call more than once, and without a prior Start.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	close(s.stop)
	s.wg.Wait()
	s.Log.Info().Msg("sweep scheduler stopped")
}

func (s *SweepScheduler) run(ticker *time.Ticker) {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx := context.Background()

	result, err := s.Sweeper.SweepAll(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("expiration sweep failed")
		return
	}
	if result.LotsExpired > 0 {
		s.Log.Info().
			Int("programs", result.ProgramsScanned).
			Int("clients", result.ClientsScanned).
			Int("lots", result.LotsExpired).
			Str("cashback", result.CashbackExpired.String()).
			Str("points", result.PointsExpired.String()).
			Msg("expiration sweep completed")
	}
}
