package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// BotRepository handles all database operations for trading bots.
type BotRepository struct {
	db *sqlx.DB
}

// NewBotRepository creates a new BotRepository.
func NewBotRepository(db *sqlx.DB) *BotRepository {
	return &BotRepository{db: db}
}

// Create inserts a new bot row.
func (r *BotRepository) Create(ctx context.Context, b *domain.Bot) error {
	query := `
		INSERT INTO bots
			(id, market_maker_id, name,
			 personality, risk_tolerance, trade_frequency,
			 avg_order_size, order_size_variance, preferred_spread,
			 status, daily_trade_count, max_daily_trades,
			 real_trades_executed, profitable_trades, total_realized_pnl,
			 total_volume, current_position, avg_entry_price,
			 created_at, updated_at)
		VALUES
			(:id, :market_maker_id, :name,
			 :personality, :risk_tolerance, :trade_frequency,
			 :avg_order_size, :order_size_variance, :preferred_spread,
			 :status, :daily_trade_count, :max_daily_trades,
			 :real_trades_executed, :profitable_trades, :total_realized_pnl,
			 :total_volume, :current_position, :avg_entry_price,
			 :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("bot_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a bot by its primary key.
func (r *BotRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Bot, error) {
	var b domain.Bot
	err := r.db.GetContext(ctx, &b, `SELECT * FROM bots WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBotNotFound
		}
		return nil, fmt.Errorf("bot_repo.GetByID: %w", err)
	}
	return &b, nil
}

// ListByMarketMaker returns every bot attached to one instance.
func (r *BotRepository) ListByMarketMaker(ctx context.Context, mmID uuid.UUID) ([]*domain.Bot, error) {
	var out []*domain.Bot
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM bots WHERE market_maker_id = $1 ORDER BY created_at ASC`, mmID)
	if err != nil {
		return nil, fmt.Errorf("bot_repo.ListByMarketMaker: %w", err)
	}
	return out, nil
}

const botUpdate = `
	UPDATE bots SET
		name                 = :name,
		personality          = :personality,
		risk_tolerance       = :risk_tolerance,
		trade_frequency      = :trade_frequency,
		avg_order_size       = :avg_order_size,
		order_size_variance  = :order_size_variance,
		preferred_spread     = :preferred_spread,
		status               = :status,
		daily_trade_count    = :daily_trade_count,
		max_daily_trades     = :max_daily_trades,
		real_trades_executed = :real_trades_executed,
		profitable_trades    = :profitable_trades,
		total_realized_pnl   = :total_realized_pnl,
		total_volume         = :total_volume,
		current_position     = :current_position,
		avg_entry_price      = :avg_entry_price,
		updated_at           = now()
	WHERE id = :id`

// Update persists the full mutable state of a bot.
func (r *BotRepository) Update(ctx context.Context, b *domain.Bot) error {
	res, err := r.db.NamedExecContext(ctx, botUpdate, b)
	if err != nil {
		return fmt.Errorf("bot_repo.Update: %w", err)
	}
	return requireRow(res, domain.ErrBotNotFound, "bot_repo.Update")
}

// UpdateTx is Update within an existing transaction.
func (r *BotRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, b *domain.Bot) error {
	res, err := tx.NamedExecContext(ctx, botUpdate, b)
	if err != nil {
		return fmt.Errorf("bot_repo.UpdateTx: %w", err)
	}
	return requireRow(res, domain.ErrBotNotFound, "bot_repo.UpdateTx")
}

// ResetDailyCounters zeroes attempt counters and lifts cooldowns for one
// instance's bots. Called by the daily reset scheduler, under the instance
// lock.
func (r *BotRepository) ResetDailyCounters(ctx context.Context, mmID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bots
		 SET daily_trade_count = 0,
		     status            = CASE WHEN status = 'COOLDOWN' THEN 'ACTIVE' ELSE status END,
		     updated_at        = now()
		 WHERE market_maker_id = $1
		   AND (daily_trade_count <> 0 OR status = 'COOLDOWN')`, mmID)
	if err != nil {
		return 0, fmt.Errorf("bot_repo.ResetDailyCounters: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetPerformance zeroes the real-performance counters of one bot.
func (r *BotRepository) ResetPerformance(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bots
		 SET real_trades_executed = 0,
		     profitable_trades    = 0,
		     total_realized_pnl   = 0,
		     total_volume         = 0,
		     current_position     = 0,
		     avg_entry_price      = 0,
		     updated_at           = now()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bot_repo.ResetPerformance: %w", err)
	}
	return requireRow(res, domain.ErrBotNotFound, "bot_repo.ResetPerformance")
}

// Delete removes a bot row.
func (r *BotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bot_repo.Delete: %w", err)
	}
	return requireRow(res, domain.ErrBotNotFound, "bot_repo.Delete")
}
