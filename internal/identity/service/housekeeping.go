package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
)

// HousekeepingService periodically sweeps expired records: sessions past
// their deadline that were never validated again, refresh tokens past their
// lifetime, and lapsed MFA lockouts.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Now overrides the clock for tests. Nil means time.Now.
	Now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the sweeper. An interval of 0 or less
// defaults to 1 hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *HousekeepingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the worker, blocking until any in-progress sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run a sweep immediately on startup.
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs each cleanup independently so one failure does not stop the
// others. Safe to run concurrently with request-path validation because
// every state change is a conditional update on an absorbing state.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	now := s.now()

	if n, err := s.Store.Sessions().RevokeExpiredSessions(ctx, now, domain.SessionReasonExpired); err != nil {
		s.Logger.Error("failed to revoke expired sessions", "error", err)
	} else if n > 0 {
		s.Logger.Info("revoked expired sessions", "count", n)
	}

	if err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	} else {
		s.Logger.Debug("deleted expired refresh tokens")
	}

	if n, err := s.Store.MFA().ClearExpiredLocks(ctx, now); err != nil {
		s.Logger.Error("failed to clear expired MFA locks", "error", err)
	} else if n > 0 {
		s.Logger.Info("cleared expired MFA locks", "count", n)
	}
}
