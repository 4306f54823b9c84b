package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// MarketMakerRepository handles all database operations for MarketMaker
// instances.
type MarketMakerRepository struct {
	db *sqlx.DB
}

// NewMarketMakerRepository creates a new MarketMakerRepository.
func NewMarketMakerRepository(db *sqlx.DB) *MarketMakerRepository {
	return &MarketMakerRepository{db: db}
}

const mmInsert = `
	INSERT INTO market_makers
		(id, market_ref, status,
		 target_price, price_range_low, price_range_high,
		 aggression_level, max_daily_volume, current_daily_volume,
		 volatility_threshold, pause_on_high_volatility, real_liquidity_percent,
		 price_mode, external_symbol, correlation_strength,
		 market_bias, bias_strength,
		 current_phase, phase_started_at, next_phase_change_at, phase_target_price,
		 base_volatility, volatility_multiplier, momentum_decay,
		 last_known_price, trend_momentum, last_momentum_update,
		 created_at, updated_at)
	VALUES
		(:id, :market_ref, :status,
		 :target_price, :price_range_low, :price_range_high,
		 :aggression_level, :max_daily_volume, :current_daily_volume,
		 :volatility_threshold, :pause_on_high_volatility, :real_liquidity_percent,
		 :price_mode, :external_symbol, :correlation_strength,
		 :market_bias, :bias_strength,
		 :current_phase, :phase_started_at, :next_phase_change_at, :phase_target_price,
		 :base_volatility, :volatility_multiplier, :momentum_decay,
		 :last_known_price, :trend_momentum, :last_momentum_update,
		 :created_at, :updated_at)`

// Create inserts a new market maker row. A duplicate market_ref maps to
// domain.ErrMarketRefTaken.
func (r *MarketMakerRepository) Create(ctx context.Context, m *domain.MarketMaker) error {
	_, err := r.db.NamedExecContext(ctx, mmInsert, m)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrMarketRefTaken
		}
		return fmt.Errorf("marketmaker_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a market maker by its primary key.
func (r *MarketMakerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MarketMaker, error) {
	var m domain.MarketMaker
	err := r.db.GetContext(ctx, &m, `SELECT * FROM market_makers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketMakerNotFound
		}
		return nil, fmt.Errorf("marketmaker_repo.GetByID: %w", err)
	}
	return &m, nil
}

// GetByMarketRef fetches a market maker by its unique market reference.
func (r *MarketMakerRepository) GetByMarketRef(ctx context.Context, ref string) (*domain.MarketMaker, error) {
	var m domain.MarketMaker
	err := r.db.GetContext(ctx, &m, `SELECT * FROM market_makers WHERE market_ref = $1`, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketMakerNotFound
		}
		return nil, fmt.Errorf("marketmaker_repo.GetByMarketRef: %w", err)
	}
	return &m, nil
}

// List returns all market makers, newest first.
func (r *MarketMakerRepository) List(ctx context.Context) ([]*domain.MarketMaker, error) {
	var out []*domain.MarketMaker
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM market_makers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("marketmaker_repo.List: %w", err)
	}
	return out, nil
}

// ListActive returns every market maker whose tick loop should be running.
func (r *MarketMakerRepository) ListActive(ctx context.Context) ([]*domain.MarketMaker, error) {
	var out []*domain.MarketMaker
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM market_makers WHERE status = 'ACTIVE' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("marketmaker_repo.ListActive: %w", err)
	}
	return out, nil
}

const mmUpdate = `
	UPDATE market_makers SET
		status                  = :status,
		target_price            = :target_price,
		price_range_low         = :price_range_low,
		price_range_high        = :price_range_high,
		aggression_level        = :aggression_level,
		max_daily_volume        = :max_daily_volume,
		current_daily_volume    = :current_daily_volume,
		volatility_threshold    = :volatility_threshold,
		pause_on_high_volatility = :pause_on_high_volatility,
		real_liquidity_percent  = :real_liquidity_percent,
		price_mode              = :price_mode,
		external_symbol         = :external_symbol,
		correlation_strength    = :correlation_strength,
		market_bias             = :market_bias,
		bias_strength           = :bias_strength,
		current_phase           = :current_phase,
		phase_started_at        = :phase_started_at,
		next_phase_change_at    = :next_phase_change_at,
		phase_target_price      = :phase_target_price,
		base_volatility         = :base_volatility,
		volatility_multiplier   = :volatility_multiplier,
		momentum_decay          = :momentum_decay,
		last_known_price        = :last_known_price,
		trend_momentum          = :trend_momentum,
		last_momentum_update    = :last_momentum_update,
		updated_at              = now()
	WHERE id = :id`

// Update persists the full mutable state of a market maker.
func (r *MarketMakerRepository) Update(ctx context.Context, m *domain.MarketMaker) error {
	res, err := r.db.NamedExecContext(ctx, mmUpdate, m)
	if err != nil {
		return fmt.Errorf("marketmaker_repo.Update: %w", err)
	}
	return requireRow(res, domain.ErrMarketMakerNotFound, "marketmaker_repo.Update")
}

// UpdateTx is Update within an existing transaction.
func (r *MarketMakerRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, m *domain.MarketMaker) error {
	res, err := tx.NamedExecContext(ctx, mmUpdate, m)
	if err != nil {
		return fmt.Errorf("marketmaker_repo.UpdateTx: %w", err)
	}
	return requireRow(res, domain.ErrMarketMakerNotFound, "marketmaker_repo.UpdateTx")
}

// GetForUpdateTx locks and fetches a market maker row inside tx.
func (r *MarketMakerRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.MarketMaker, error) {
	var m domain.MarketMaker
	err := tx.GetContext(ctx, &m, `SELECT * FROM market_makers WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketMakerNotFound
		}
		return nil, fmt.Errorf("marketmaker_repo.GetForUpdateTx: %w", err)
	}
	return &m, nil
}

// UpdateStatus flips just the lifecycle status.
func (r *MarketMakerRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MMStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE market_makers SET status = $1, updated_at = now() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("marketmaker_repo.UpdateStatus: %w", err)
	}
	return requireRow(res, domain.ErrMarketMakerNotFound, "marketmaker_repo.UpdateStatus")
}

// ResetDailyVolumes zeroes one instance's current_daily_volume. Called by
// the daily reset scheduler at midnight UTC, under the instance lock.
func (r *MarketMakerRepository) ResetDailyVolumes(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE market_makers SET current_daily_volume = 0, updated_at = now()
		 WHERE id = $1 AND current_daily_volume <> 0`, id)
	if err != nil {
		return 0, fmt.Errorf("marketmaker_repo.ResetDailyVolumes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Delete removes a market maker row. Pool, bot and history rows all
// cascade via FK; history allows deletion through this cascade only.
func (r *MarketMakerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM market_makers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marketmaker_repo.Delete: %w", err)
	}
	return requireRow(res, domain.ErrMarketMakerNotFound, "marketmaker_repo.Delete")
}

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// requireRow converts a zero-rows-affected result into notFound.
func requireRow(res sql.Result, notFound error, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
