// Package scheduler manages the background maintenance goroutines around the
// tick engine:
//  1. dailyResetLoop   – zeroes daily volume and bot trade counters at
//     midnight UTC and lifts COOLDOWN bots back to ACTIVE.
//  2. feedRefreshLoop  – keeps external reference prices warm so hybrid and
//     follower instances never block a tick on a cold fetch.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/marketmaker/internal/config"
	"github.com/evetabi/marketmaker/internal/engine"
	"github.com/evetabi/marketmaker/internal/feed"
	"github.com/evetabi/marketmaker/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the maintenance goroutines.  Call Start(ctx) once from
// main(); cancel the context to shut it down gracefully.
type Scheduler struct {
	makers  *repository.MarketMakerRepository
	bots    *repository.BotRepository
	manager *engine.Manager
	feed    *feed.Feed
	cfg     *config.Config
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	makers *repository.MarketMakerRepository,
	bots *repository.BotRepository,
	manager *engine.Manager,
	f *feed.Feed,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		makers:  makers,
		bots:    bots,
		manager: manager,
		feed:    f,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start launches the background goroutines.  It returns immediately; all
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.dailyResetLoop(ctx)
	go s.feedRefreshLoop(ctx)
	s.logger.Info("scheduler started")
}

// ──────────────────────────────────────────────────────────────────────────────
// dailyResetLoop
// ──────────────────────────────────────────────────────────────────────────────

// dailyResetLoop fires at each midnight UTC boundary.  On failure it retries
// up to 3 times with a 30-second pause before waiting for the next boundary.
func (s *Scheduler) dailyResetLoop(ctx context.Context) {
	defer s.recoverAndLog("dailyResetLoop")

	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		wait := next.Sub(now)

		s.logger.Info("next daily reset at", "time", next.Format(time.RFC3339), "wait", wait.Round(time.Second))

		select {
		case <-ctx.Done():
			s.logger.Info("dailyResetLoop: shutting down")
			return
		case <-time.After(wait):
		}

		if err := s.resetWithRetry(ctx); err != nil {
			s.logger.Error("dailyResetLoop: reset failed after retries", "err", err)
		}
	}
}

// resetWithRetry attempts the daily reset up to 3 times.
func (s *Scheduler) resetWithRetry(ctx context.Context) error {
	const maxAttempts = 3
	const retryDelay = 30 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.runDailyReset(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("daily reset failed, retrying",
			"attempt", attempt, "max", maxAttempts, "err", err)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return lastErr
}

// runDailyReset zeroes the day counters for every instance.  Each instance's
// reset happens under its manager lock so a concurrent tick never reads a
// half-reset day.
func (s *Scheduler) runDailyReset(ctx context.Context) error {
	makers, err := s.makers.List(ctx)
	if err != nil {
		return err
	}

	var resetVolumes, resetBots int64
	for _, mm := range makers {
		id := mm.ID
		err := s.manager.WithLock(id, func() error {
			n, err := s.makers.ResetDailyVolumes(ctx, id)
			if err != nil {
				return err
			}
			resetVolumes += n
			b, err := s.bots.ResetDailyCounters(ctx, id)
			if err != nil {
				return err
			}
			resetBots += b
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.logger.Info("daily reset complete",
		"instances", len(makers),
		"volumes_reset", resetVolumes,
		"bot_counters_reset", resetBots)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// feedRefreshLoop
// ──────────────────────────────────────────────────────────────────────────────

// feedRefreshLoop keeps the feed cache warm for every symbol an active
// instance follows, so ticks read cached prices instead of blocking on HTTP.
func (s *Scheduler) feedRefreshLoop(ctx context.Context) {
	defer s.recoverAndLog("feedRefreshLoop")

	interval := s.cfg.Feed.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feedRefreshLoop: shutting down")
			return
		case <-ticker.C:
			s.refreshFeeds(ctx)
		}
	}
}

// refreshFeeds is the inner body of feedRefreshLoop, extracted so that the
// defer/recover in the loop catches panics correctly.
func (s *Scheduler) refreshFeeds(ctx context.Context) {
	makers, err := s.makers.ListActive(ctx)
	if err != nil {
		s.logger.Warn("feedRefreshLoop: listing instances failed", "err", err)
		return
	}

	seen := make(map[string]struct{})
	for _, mm := range makers {
		if !mm.PriceMode.UsesExternal() || mm.ExternalSymbol == nil {
			continue
		}
		sym := *mm.ExternalSymbol
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}

		// A fresh in-memory aggregate needs no exchange round trip.
		if _, ok := s.feed.CachedPrice(sym); ok {
			continue
		}
		if _, err := s.feed.LatestPrice(ctx, sym); err != nil {
			s.logger.Warn("feedRefreshLoop: refresh failed", "symbol", sym, "err", err)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
