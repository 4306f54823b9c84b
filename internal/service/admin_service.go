// Package service holds the admin-facing orchestration layer: lifecycle
// control, configuration edits, pool funding and bot management. Every
// write serializes against the instance's tick loop through the engine
// manager's per-instance lock, and every state change lands together with
// its audit entry.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/marketmaker/internal/config"
	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/evetabi/marketmaker/internal/engine"
	"github.com/evetabi/marketmaker/internal/feed"
	"github.com/evetabi/marketmaker/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// AdminService drives operator actions on market maker instances.
type AdminService struct {
	db      *sqlx.DB
	makers  *repository.MarketMakerRepository
	pools   *repository.PoolRepository
	bots    *repository.BotRepository
	history *repository.HistoryRepository
	store   engine.Store
	manager *engine.Manager
	feed    *feed.Feed
	cfg     *config.Config
	logger  *slog.Logger
}

// NewAdminService wires the admin orchestration layer.
func NewAdminService(
	db *sqlx.DB,
	makers *repository.MarketMakerRepository,
	pools *repository.PoolRepository,
	bots *repository.BotRepository,
	history *repository.HistoryRepository,
	store engine.Store,
	manager *engine.Manager,
	f *feed.Feed,
	cfg *config.Config,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		db:      db,
		makers:  makers,
		pools:   pools,
		bots:    bots,
		history: history,
		store:   store,
		manager: manager,
		feed:    f,
		cfg:     cfg,
		logger:  logger,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Creation / teardown
// ──────────────────────────────────────────────────────────────────────────────

// CreateMarketMaker validates and persists a new instance in STOPPED state
// together with its liquidity pool seeded at the initial balances.
func (s *AdminService) CreateMarketMaker(ctx context.Context, mm *domain.MarketMaker, initialBase, initialQuote decimal.Decimal) (*domain.MarketMaker, error) {
	if mm.ID == uuid.Nil {
		mm.ID = uuid.New()
	}
	mm.Status = domain.MMStatusStopped
	mm.CurrentDailyVolume = decimal.Zero
	now := time.Now().UTC()
	mm.CreatedAt, mm.UpdatedAt = now, now
	if mm.CurrentPhase == "" {
		mm.CurrentPhase = domain.PhaseAccumulation
	}
	mm.PhaseStartedAt = now
	mm.NextPhaseChangeAt = time.Time{} // seeded by the first tick after start

	if err := mm.ValidateConfig(); err != nil {
		return nil, err
	}
	if initialBase.IsNegative() || initialQuote.IsNegative() {
		return nil, domain.ErrInvalidConfig("initial balances cannot be negative")
	}

	if err := s.makers.Create(ctx, mm); err != nil {
		return nil, err
	}
	pool := &domain.Pool{
		ID:                   uuid.New(),
		MarketMakerID:        mm.ID,
		BaseCurrencyBalance:  initialBase,
		QuoteCurrencyBalance: initialQuote,
		InitialBaseBalance:   initialBase,
		InitialQuoteBalance:  initialQuote,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	pool.RecomputeTVL(mm.LastKnownPrice)
	if err := s.pools.Create(ctx, pool); err != nil {
		return nil, err
	}

	s.logger.Info("market maker created", "market_ref", mm.MarketRef, "id", mm.ID)
	return mm, nil
}

// DeleteMarketMaker tears an instance down. Only STOPPED instances may be
// deleted; pool, bots and history cascade with the row.
func (s *AdminService) DeleteMarketMaker(ctx context.Context, id uuid.UUID) error {
	return s.manager.WithLock(id, func() error {
		mm, err := s.makers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if mm.Status != domain.MMStatusStopped {
			return domain.ErrMarketMakerNotActive
		}
		if err := s.makers.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Info("market maker deleted", "market_ref", mm.MarketRef)
		return nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// Start activates a STOPPED or PAUSED instance and launches its tick loop.
func (s *AdminService) Start(ctx context.Context, id uuid.UUID, reason string) error {
	err := s.lifecycle(ctx, id, domain.ActionStart, reason, func(mm *domain.MarketMaker) error {
		if mm.Status == domain.MMStatusActive {
			return nil
		}
		if err := mm.ValidateConfig(); err != nil {
			return err
		}
		mm.Status = domain.MMStatusActive
		return nil
	})
	if err != nil {
		return err
	}
	return s.manager.StartInstance(id)
}

// Stop halts an instance. The runner observes STOPPED at its next tick
// boundary; the cancel tears it down promptly either way.
func (s *AdminService) Stop(ctx context.Context, id uuid.UUID, reason string) error {
	err := s.lifecycle(ctx, id, domain.ActionStop, reason, func(mm *domain.MarketMaker) error {
		mm.Status = domain.MMStatusStopped
		return nil
	})
	if err != nil {
		return err
	}
	s.manager.StopInstance(id)
	return nil
}

// Pause freezes an instance: the loop keeps running but every tick is a
// no-op, preserving phase and momentum state for Resume.
func (s *AdminService) Pause(ctx context.Context, id uuid.UUID, reason string) error {
	return s.lifecycle(ctx, id, domain.ActionPause, reason, func(mm *domain.MarketMaker) error {
		if mm.Status != domain.MMStatusActive {
			return domain.ErrMarketMakerNotActive
		}
		mm.Status = domain.MMStatusPaused
		return nil
	})
}

// Resume unfreezes a PAUSED instance, manual or auto-paused alike.
func (s *AdminService) Resume(ctx context.Context, id uuid.UUID, reason string) error {
	err := s.lifecycle(ctx, id, domain.ActionResume, reason, func(mm *domain.MarketMaker) error {
		if mm.Status == domain.MMStatusStopped {
			return domain.ErrMarketMakerStopped
		}
		mm.Status = domain.MMStatusActive
		return nil
	})
	if err != nil {
		return err
	}
	return s.manager.StartInstance(id)
}

// EmergencyStop halts an instance immediately and records the entry even
// when the status write fails: the audit record must exist regardless.
func (s *AdminService) EmergencyStop(ctx context.Context, id uuid.UUID, reason string) error {
	s.manager.StopInstance(id)

	// Cancellation above is asynchronous. The status write takes the
	// instance lock so it lands after any in-flight tick's commit; committed
	// ticks write the full row and would otherwise resurrect ACTIVE.
	statusErr := s.manager.WithLock(id, func() error {
		return s.makers.UpdateStatus(ctx, id, domain.MMStatusStopped)
	})

	mm, err := s.makers.GetByID(ctx, id)
	if err != nil {
		return err
	}
	pool, poolErr := s.pools.GetByMarketMaker(ctx, id)
	poolValue := decimal.Zero
	if poolErr == nil {
		poolValue = pool.ValueAt(mm.LastKnownPrice)
	}

	entry, err := domain.NewHistoryEntry(id,
		domain.NewLifecycleDetails(domain.ActionEmergencyStop, reason),
		mm.LastKnownPrice, poolValue)
	if err != nil {
		return err
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.Error("emergency stop entry write failed", "market_ref", mm.MarketRef, "err", err)
		return err
	}
	s.logger.Warn("emergency stop", "market_ref", mm.MarketRef, "reason", reason)
	return statusErr
}

// lifecycle applies one status mutation plus its audit entry atomically,
// under the instance lock.
func (s *AdminService) lifecycle(ctx context.Context, id uuid.UUID, action domain.Action, reason string, mutate func(*domain.MarketMaker) error) error {
	return s.manager.WithLock(id, func() error {
		mm, err := s.makers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		prev := mm.Status
		if err := mutate(mm); err != nil {
			return err
		}
		if mm.Status == prev {
			return nil // idempotent no-op, nothing to record
		}

		pool, err := s.pools.GetByMarketMaker(ctx, id)
		if err != nil {
			return err
		}
		entry, err := domain.NewHistoryEntry(id,
			domain.NewLifecycleDetails(action, reason),
			mm.LastKnownPrice, pool.ValueAt(mm.LastKnownPrice))
		if err != nil {
			return err
		}
		err = s.store.CommitTick(ctx, &engine.TickCommit{
			MarketMaker: mm,
			Entries:     []*domain.HistoryEntry{entry},
		})
		if err != nil {
			return fmt.Errorf("admin_service.%s: %w", action, err)
		}
		s.logger.Info("lifecycle change", "market_ref", mm.MarketRef, "action", action, "from", prev, "to", mm.Status)
		return nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Configuration
// ──────────────────────────────────────────────────────────────────────────────

// ConfigUpdate carries the editable tuning fields; nil pointers leave the
// current value alone.
type ConfigUpdate struct {
	TargetPrice          *decimal.Decimal
	PriceRangeLow        *decimal.Decimal
	PriceRangeHigh       *decimal.Decimal
	AggressionLevel      *decimal.Decimal
	MaxDailyVolume       *decimal.Decimal
	VolatilityThreshold  *decimal.Decimal
	PauseOnHighVol       *bool
	RealLiquidityPercent *decimal.Decimal
	PriceMode            *domain.PriceMode
	ExternalSymbol       *string
	CorrelationStrength  *decimal.Decimal
	BaseVolatility       *decimal.Decimal
	VolatilityMultiplier *decimal.Decimal
	MomentumDecay        *decimal.Decimal
}

// UpdateConfig applies a partial configuration edit. The changed fields are
// recorded as a CONFIG_CHANGE entry; a target-price edit additionally gets
// its own TARGET_CHANGE entry so target history stays queryable on its own.
func (s *AdminService) UpdateConfig(ctx context.Context, id uuid.UUID, upd ConfigUpdate) (*domain.MarketMaker, error) {
	var out *domain.MarketMaker
	err := s.manager.WithLock(id, func() error {
		mm, err := s.makers.GetByID(ctx, id)
		if err != nil {
			return err
		}

		changed := make(map[string]string)
		var entries []*domain.HistoryEntry

		if upd.TargetPrice != nil && !decimalPtrEqual(mm.TargetPrice, upd.TargetPrice) {
			old := mm.TargetPrice
			mm.TargetPrice = upd.TargetPrice
			changed["target_price"] = upd.TargetPrice.String()
			d := domain.TargetChangeDetails{OldTarget: old, NewTarget: upd.TargetPrice, Reason: "admin update"}
			e, err := s.entry(ctx, mm, d)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		if upd.PriceRangeLow != nil {
			mm.PriceRangeLow = upd.PriceRangeLow
			changed["price_range_low"] = upd.PriceRangeLow.String()
		}
		if upd.PriceRangeHigh != nil {
			mm.PriceRangeHigh = upd.PriceRangeHigh
			changed["price_range_high"] = upd.PriceRangeHigh.String()
		}
		if upd.AggressionLevel != nil {
			mm.AggressionLevel = *upd.AggressionLevel
			changed["aggression_level"] = upd.AggressionLevel.String()
		}
		if upd.MaxDailyVolume != nil {
			mm.MaxDailyVolume = *upd.MaxDailyVolume
			changed["max_daily_volume"] = upd.MaxDailyVolume.String()
		}
		if upd.VolatilityThreshold != nil {
			mm.VolatilityThreshold = *upd.VolatilityThreshold
			changed["volatility_threshold"] = upd.VolatilityThreshold.String()
		}
		if upd.PauseOnHighVol != nil {
			mm.PauseOnHighVolatility = *upd.PauseOnHighVol
			changed["pause_on_high_volatility"] = fmt.Sprintf("%t", *upd.PauseOnHighVol)
		}
		if upd.RealLiquidityPercent != nil {
			mm.RealLiquidityPercent = *upd.RealLiquidityPercent
			changed["real_liquidity_percent"] = upd.RealLiquidityPercent.String()
		}
		if upd.PriceMode != nil {
			mm.PriceMode = *upd.PriceMode
			changed["price_mode"] = string(*upd.PriceMode)
		}
		if upd.ExternalSymbol != nil {
			mm.ExternalSymbol = upd.ExternalSymbol
			changed["external_symbol"] = *upd.ExternalSymbol
		}
		if upd.CorrelationStrength != nil {
			mm.CorrelationStrength = *upd.CorrelationStrength
			changed["correlation_strength"] = upd.CorrelationStrength.String()
		}
		if upd.BaseVolatility != nil {
			mm.BaseVolatility = *upd.BaseVolatility
			changed["base_volatility"] = upd.BaseVolatility.String()
		}
		if upd.VolatilityMultiplier != nil {
			mm.VolatilityMultiplier = *upd.VolatilityMultiplier
			changed["volatility_multiplier"] = upd.VolatilityMultiplier.String()
		}
		if upd.MomentumDecay != nil {
			mm.MomentumDecay = *upd.MomentumDecay
			changed["momentum_decay"] = upd.MomentumDecay.String()
		}

		if len(changed) == 0 && len(entries) == 0 {
			out = mm
			return nil
		}
		if err := mm.ValidateConfig(); err != nil {
			return err
		}

		if len(changed) > 0 {
			e, err := s.entry(ctx, mm, domain.ConfigChangeDetails{Changed: changed})
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}

		err = s.store.CommitTick(ctx, &engine.TickCommit{MarketMaker: mm, Entries: entries})
		if err != nil {
			return fmt.Errorf("admin_service.UpdateConfig: %w", err)
		}
		out = mm
		return nil
	})
	return out, err
}

// SetBias adjusts the directional bias with its own BIAS_CHANGE entry.
func (s *AdminService) SetBias(ctx context.Context, id uuid.UUID, bias domain.Bias, strength decimal.Decimal) (*domain.MarketMaker, error) {
	var out *domain.MarketMaker
	err := s.manager.WithLock(id, func() error {
		mm, err := s.makers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		d := domain.BiasChangeDetails{
			OldBias:     mm.MarketBias,
			NewBias:     bias,
			OldStrength: mm.BiasStrength,
			NewStrength: strength,
		}
		mm.MarketBias = bias
		mm.BiasStrength = strength
		if err := mm.ValidateConfig(); err != nil {
			return err
		}
		e, err := s.entry(ctx, mm, d)
		if err != nil {
			return err
		}
		err = s.store.CommitTick(ctx, &engine.TickCommit{MarketMaker: mm, Entries: []*domain.HistoryEntry{e}})
		if err != nil {
			return fmt.Errorf("admin_service.SetBias: %w", err)
		}
		out = mm
		return nil
	})
	return out, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool funding
// ──────────────────────────────────────────────────────────────────────────────

// Deposit credits the pool with operator liquidity.
func (s *AdminService) Deposit(ctx context.Context, id uuid.UUID, base, quote decimal.Decimal) (*domain.Pool, error) {
	if base.IsNegative() || quote.IsNegative() || (base.IsZero() && quote.IsZero()) {
		return nil, domain.ErrInvalidConfig("deposit amounts must be positive")
	}
	return s.moveFunds(ctx, id, func(pool *domain.Pool) (domain.Details, error) {
		pool.BaseCurrencyBalance = pool.BaseCurrencyBalance.Add(base)
		pool.QuoteCurrencyBalance = pool.QuoteCurrencyBalance.Add(quote)
		return domain.DepositDetails{BaseAmount: base, QuoteAmount: quote}, nil
	})
}

// Withdraw debits the pool. The balances may never go negative.
func (s *AdminService) Withdraw(ctx context.Context, id uuid.UUID, base, quote decimal.Decimal) (*domain.Pool, error) {
	if base.IsNegative() || quote.IsNegative() || (base.IsZero() && quote.IsZero()) {
		return nil, domain.ErrInvalidConfig("withdrawal amounts must be positive")
	}
	return s.moveFunds(ctx, id, func(pool *domain.Pool) (domain.Details, error) {
		if !pool.CanDebit(true, base) || !pool.CanDebit(false, quote) {
			return nil, domain.ErrInsufficientPoolBalance
		}
		pool.BaseCurrencyBalance = pool.BaseCurrencyBalance.Sub(base)
		pool.QuoteCurrencyBalance = pool.QuoteCurrencyBalance.Sub(quote)
		return domain.WithdrawDetails{BaseAmount: base, QuoteAmount: quote}, nil
	})
}

// Rebalance moves the pool toward an even base/quote value split at the
// last known price.
func (s *AdminService) Rebalance(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	return s.moveFunds(ctx, id, func(pool *domain.Pool) (domain.Details, error) {
		mm, err := s.makers.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if mm.LastKnownPrice.IsZero() {
			return nil, domain.ErrInvalidConfig("cannot rebalance without a price")
		}
		ledger := s.manager.Ledger(id)
		if ledger == nil {
			ledger = engine.NewPoolLedger()
		}
		d := ledger.Rebalance(pool, mm.LastKnownPrice, time.Now().UTC(), "manual")
		return d, nil
	})
}

// moveFunds runs one pool mutation in a transaction under the instance
// lock, with the pool row locked and the audit entry in the same commit.
func (s *AdminService) moveFunds(ctx context.Context, id uuid.UUID, mutate func(*domain.Pool) (domain.Details, error)) (*domain.Pool, error) {
	var out *domain.Pool
	err := s.manager.WithLock(id, func() error {
		mm, err := s.makers.GetByID(ctx, id)
		if err != nil {
			return err
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("admin_service.moveFunds begin: %w", err)
		}
		defer tx.Rollback()

		pool, err := s.pools.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		details, err := mutate(pool)
		if err != nil {
			return err
		}
		pool.RecomputeTVL(mm.LastKnownPrice)

		entry, err := domain.NewHistoryEntry(id, details, mm.LastKnownPrice, pool.ValueAt(mm.LastKnownPrice))
		if err != nil {
			return err
		}
		if err := s.pools.UpdateTx(ctx, tx, pool); err != nil {
			return err
		}
		if err := s.history.AppendTx(ctx, tx, entry); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("admin_service.moveFunds commit: %w", err)
		}
		out = pool
		return nil
	})
	return out, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Bots
// ──────────────────────────────────────────────────────────────────────────────

// AddBot validates and attaches a bot to an instance.
func (s *AdminService) AddBot(ctx context.Context, b *domain.Bot) (*domain.Bot, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	if b.Status == "" {
		b.Status = domain.BotStatusActive
	}
	if b.MaxDailyTrades == 0 {
		b.MaxDailyTrades = 1000
	}
	if err := b.ValidateConfig(); err != nil {
		return nil, err
	}

	err := s.manager.WithLock(b.MarketMakerID, func() error {
		if _, err := s.makers.GetByID(ctx, b.MarketMakerID); err != nil {
			return err
		}
		return s.bots.Create(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBot applies a full bot edit.
func (s *AdminService) UpdateBot(ctx context.Context, b *domain.Bot) error {
	if err := b.ValidateConfig(); err != nil {
		return err
	}
	return s.manager.WithLock(b.MarketMakerID, func() error {
		return s.bots.Update(ctx, b)
	})
}

// RemoveBot deletes a bot and forgets its in-memory scheduling state.
func (s *AdminService) RemoveBot(ctx context.Context, mmID, botID uuid.UUID) error {
	err := s.manager.WithLock(mmID, func() error {
		return s.bots.Delete(ctx, botID)
	})
	if err != nil {
		return err
	}
	s.manager.ForgetBot(mmID, botID)
	return nil
}

// ResetBotPerformance zeroes a bot's real-performance counters.
func (s *AdminService) ResetBotPerformance(ctx context.Context, mmID, botID uuid.UUID) error {
	return s.manager.WithLock(mmID, func() error {
		return s.bots.ResetPerformance(ctx, botID)
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Get returns one market maker.
func (s *AdminService) Get(ctx context.Context, id uuid.UUID) (*domain.MarketMaker, error) {
	return s.makers.GetByID(ctx, id)
}

// List returns all market makers.
func (s *AdminService) List(ctx context.Context) ([]*domain.MarketMaker, error) {
	return s.makers.List(ctx)
}

// GetByRef looks an instance up by its managed market reference.
func (s *AdminService) GetByRef(ctx context.Context, ref string) (*domain.MarketMaker, error) {
	return s.makers.GetByMarketRef(ctx, ref)
}

// Status assembles the operator dashboard view of one instance.
func (s *AdminService) Status(ctx context.Context, id uuid.UUID) (*domain.MarketMakerStatus, error) {
	mm, err := s.makers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pool, err := s.pools.GetByMarketMaker(ctx, id)
	if err != nil {
		return nil, err
	}
	st := mm.ToStatus(pool)
	return &st, nil
}

// ListBots returns an instance's bot population.
func (s *AdminService) ListBots(ctx context.Context, mmID uuid.UUID) ([]*domain.Bot, error) {
	if _, err := s.makers.GetByID(ctx, mmID); err != nil {
		return nil, err
	}
	return s.bots.ListByMarketMaker(ctx, mmID)
}

// ListHistory returns an instance's audit entries, filtered and paginated.
func (s *AdminService) ListHistory(ctx context.Context, mmID uuid.UUID, f domain.HistoryFilter) ([]*domain.HistoryEntry, error) {
	if _, err := s.makers.GetByID(ctx, mmID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, mmID, f)
}

// HistoryStats aggregates an instance's audit entry counts per action.
func (s *AdminService) HistoryStats(ctx context.Context, mmID uuid.UUID) (map[domain.Action]int64, error) {
	if _, err := s.makers.GetByID(ctx, mmID); err != nil {
		return nil, err
	}
	return s.history.CountByAction(ctx, mmID)
}

// FeedHealth reports per-exchange reachability for the health endpoint.
func (s *AdminService) FeedHealth() map[string]bool {
	return s.feed.ExchangeStatus()
}

// entry builds a history entry snapshotting the instance's price and pool
// value at this moment.
func (s *AdminService) entry(ctx context.Context, mm *domain.MarketMaker, d domain.Details) (*domain.HistoryEntry, error) {
	pool, err := s.pools.GetByMarketMaker(ctx, mm.ID)
	if err != nil {
		return nil, err
	}
	return domain.NewHistoryEntry(mm.ID, d, mm.LastKnownPrice, pool.ValueAt(mm.LastKnownPrice))
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
