package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Runner — one tick loop per MarketMaker instance
// ──────────────────────────────────────────────────────────────────────────────

// Runner drives the tick loop for a single MarketMaker. Ticks are strictly
// sequential: a new tick begins only after the previous tick's ledger and
// audit writes committed, and every tick runs under the instance's
// serialization lock so admin operations can never race a mid-flight
// ledger update.
type Runner struct {
	id   uuid.UUID
	lock *sync.Mutex // per-instance serialization point, shared with Manager

	store    Store
	synth    *Synthesizer
	bots     *BotManager
	router   *LiquidityRouter
	ledger   *PoolLedger
	governor *RiskGovernor
	hub      Broadcaster
	logger   *slog.Logger
	rng      *rand.Rand

	interval    time.Duration
	clampLogPct decimal.Decimal
}

// Run loops until the context is cancelled or the instance is observed
// STOPPED at a tick boundary.
func (r *Runner) Run(ctx context.Context) error {
	defer r.recoverAndLog()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner shutting down", "market_maker", r.id)
			return nil
		case <-ticker.C:
			stopped, err := r.tick(ctx)
			if err != nil {
				r.logger.Error("tick failed", "market_maker", r.id, "err", err)
				continue
			}
			if stopped {
				r.logger.Info("runner observed STOPPED status, exiting", "market_maker", r.id)
				return nil
			}
		}
	}
}

// tick executes one full pipeline pass:
// momentum → phase → bias → external blend → synthesize → volatility gate →
// bots → router → ledger → single atomic commit with all audit entries.
func (r *Runner) tick(ctx context.Context) (stopped bool, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	mm, err := r.store.GetMarketMaker(ctx, r.id)
	if err != nil {
		return false, fmt.Errorf("runner.tick: load market maker: %w", err)
	}
	switch mm.Status {
	case domain.MMStatusStopped:
		return true, nil
	case domain.MMStatusPaused:
		return false, nil // frozen: no transitions, no ticks
	}

	pool, err := r.store.GetPool(ctx, r.id)
	if err != nil {
		return false, fmt.Errorf("runner.tick: load pool: %w", err)
	}
	allBots, err := r.store.ListBots(ctx, r.id)
	if err != nil {
		return false, fmt.Errorf("runner.tick: load bots: %w", err)
	}

	now := time.Now().UTC()
	prevPrice := mm.LastKnownPrice

	// A freshly started instance has no phase schedule yet.
	if mm.NextPhaseChangeAt.IsZero() {
		r.synth.phases.Enter(mm, mm.CurrentPhase, now, r.rng)
	}

	tp := r.synth.Tick(ctx, mm, r.rng, now)

	var entries []*domain.HistoryEntry
	appendEntry := func(d domain.Details) error {
		e, err := domain.NewHistoryEntry(mm.ID, d, tp.Price, pool.ValueAt(tp.Price))
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	}

	if tp.PhaseChange != nil {
		if err := appendEntry(*tp.PhaseChange); err != nil {
			return false, err
		}
		mtxPhaseChanges.WithLabelValues(mm.MarketRef).Inc()
		if r.hub != nil {
			r.hub.BroadcastPhaseChange(mm, *tp.PhaseChange)
		}
	}
	if tp.MomentumEvent != nil {
		if err := appendEntry(*tp.MomentumEvent); err != nil {
			return false, err
		}
	}
	if tp.Degraded {
		mtxFeedDegraded.WithLabelValues(mm.MarketRef).Inc()
	}

	// Volatility gate: on breach, pause and abort the remainder of the tick.
	vol, breach := r.governor.CheckVolatility(mm, prevPrice, tp.Price)
	if breach {
		mm.Status = domain.MMStatusPaused
		pause := domain.AutoPauseDetails{
			Reason:     "volatility threshold breached",
			Volatility: vol.Round(4),
			Threshold:  mm.VolatilityThreshold,
		}
		if err := appendEntry(pause); err != nil {
			return false, err
		}
		if err := r.store.CommitTick(ctx, &TickCommit{MarketMaker: mm, Entries: entries}); err != nil {
			return false, fmt.Errorf("runner.tick: commit auto-pause: %w", err)
		}
		mtxAutoPauses.WithLabelValues(mm.MarketRef).Inc()
		r.logger.Warn("auto-paused on volatility breach",
			"market_ref", mm.MarketRef, "volatility", vol, "threshold", mm.VolatilityThreshold)
		if r.hub != nil {
			r.hub.BroadcastAutoPause(mm, pause)
		}
		return false, nil
	}

	// Range clamping that meaningfully suppressed the process is itself an
	// event operators need to see.
	if tp.Clamped && tp.ClampDeviationPct().GreaterThan(r.clampLogPct) {
		unclamped := tp.Unclamped
		clamped := tp.Price
		err := appendEntry(domain.TargetChangeDetails{
			OldTarget: &unclamped,
			NewTarget: &clamped,
			Reason:    "price range clamp suppressed volatility",
		})
		if err != nil {
			return false, err
		}
	}

	// Bot evaluation and order flow.
	dirty := make(map[uuid.UUID]*domain.Bot)
	for _, bot := range allBots {
		prevStatus := bot.Status
		orders, changed := r.bots.Evaluate(bot, mm, tp.Price, r.rng)
		if changed {
			dirty[bot.ID] = bot
			if prevStatus == domain.BotStatusActive && bot.Status == domain.BotStatusCooldown {
				r.logger.Info("bot entered cooldown until daily reset",
					"market_ref", mm.MarketRef, "bot", bot.Name, "reason", domain.ErrBotDailyCapReached)
			}
		}

		for _, order := range orders {
			if err := r.governor.CheckOrderVolume(mm, order.Notional()); err != nil {
				mtxOrders.WithLabelValues("skipped").Inc()
				r.logger.Warn("order skipped by daily volume cap",
					"market_ref", mm.MarketRef, "bot", bot.Name, "notional", order.Notional())
				continue
			}

			fill, err := r.router.Route(ctx, mm, order, r.rng)
			if err != nil {
				mtxOrders.WithLabelValues("dropped").Inc()
				continue // reason already logged by the router
			}

			if _, err := r.ledger.Apply(pool, bot, fill); err != nil {
				if errors.Is(err, domain.ErrInsufficientPoolBalance) {
					mtxOrders.WithLabelValues("skipped").Inc()
					r.logger.Warn("fill rejected by pool balance",
						"market_ref", mm.MarketRef, "bot", bot.Name, "side", fill.Order.Side)
					continue
				}
				return false, fmt.Errorf("runner.tick: ledger apply: %w", err)
			}
			if fill.Real {
				dirty[bot.ID] = bot
				mtxOrders.WithLabelValues("real").Inc()
			} else {
				mtxOrders.WithLabelValues("simulated").Inc()
			}

			mm.CurrentDailyVolume = mm.CurrentDailyVolume.Add(fill.Notional())
			err = appendEntry(domain.TradeDetails{
				BotID:    bot.ID,
				Side:     fill.Order.Side,
				Price:    fill.Price,
				Amount:   fill.Amount,
				Real:     fill.Real,
				OrderRef: fill.OrderRef,
			})
			if err != nil {
				return false, err
			}
		}
	}

	// Soft invariant: concurrent real fills may overshoot the cap; that is
	// logged, never rejected after the fact.
	if !mm.MaxDailyVolume.IsZero() && mm.CurrentDailyVolume.GreaterThan(mm.MaxDailyVolume) {
		r.logger.Warn("daily volume exceeded cap",
			"market_ref", mm.MarketRef,
			"current", mm.CurrentDailyVolume, "cap", mm.MaxDailyVolume)
	}

	r.ledger.Recompute(pool, allBots, tp.Price)

	commit := &TickCommit{MarketMaker: mm, Pool: pool, Entries: entries}
	for _, b := range dirty {
		commit.Bots = append(commit.Bots, b)
	}
	if err := r.store.CommitTick(ctx, commit); err != nil {
		return false, fmt.Errorf("runner.tick: commit: %w", err)
	}

	mtxTicks.WithLabelValues(mm.MarketRef).Inc()
	mtxLastPrice.WithLabelValues(mm.MarketRef).Set(tp.Price.InexactFloat64())
	mtxPoolValue.WithLabelValues(mm.MarketRef).Set(pool.TotalValueLocked.InexactFloat64())
	if r.hub != nil {
		r.hub.BroadcastTick(mm, pool)
	}
	return false, nil
}

// recoverAndLog catches unexpected panics so one instance's failure cannot
// take down the whole engine.
func (r *Runner) recoverAndLog() {
	if rec := recover(); rec != nil {
		r.logger.Error("PANIC recovered in runner", "market_maker", r.id, "panic", rec)
	}
}
