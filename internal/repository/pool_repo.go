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

// PoolRepository handles all database operations for liquidity pools.
// Every market maker owns exactly one pool row.
type PoolRepository struct {
	db *sqlx.DB
}

// NewPoolRepository creates a new PoolRepository.
func NewPoolRepository(db *sqlx.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// Create inserts the pool row for a freshly created market maker.
func (r *PoolRepository) Create(ctx context.Context, p *domain.Pool) error {
	query := `
		INSERT INTO pools
			(id, market_maker_id,
			 base_currency_balance, quote_currency_balance,
			 initial_base_balance, initial_quote_balance,
			 total_value_locked, unrealized_pnl, realized_pnl,
			 last_rebalance_at, created_at, updated_at)
		VALUES
			(:id, :market_maker_id,
			 :base_currency_balance, :quote_currency_balance,
			 :initial_base_balance, :initial_quote_balance,
			 :total_value_locked, :unrealized_pnl, :realized_pnl,
			 :last_rebalance_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("pool_repo.Create: %w", err)
	}
	return nil
}

// GetByMarketMaker fetches the pool owned by one instance.
func (r *PoolRepository) GetByMarketMaker(ctx context.Context, mmID uuid.UUID) (*domain.Pool, error) {
	var p domain.Pool
	err := r.db.GetContext(ctx, &p, `SELECT * FROM pools WHERE market_maker_id = $1`, mmID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("pool_repo.GetByMarketMaker: %w", err)
	}
	return &p, nil
}

// GetForUpdateTx locks and fetches the pool row inside tx. All balance
// mutations go through this lock.
func (r *PoolRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, mmID uuid.UUID) (*domain.Pool, error) {
	var p domain.Pool
	err := tx.GetContext(ctx, &p,
		`SELECT * FROM pools WHERE market_maker_id = $1 FOR UPDATE`, mmID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("pool_repo.GetForUpdateTx: %w", err)
	}
	return &p, nil
}

const poolUpdate = `
	UPDATE pools SET
		base_currency_balance  = :base_currency_balance,
		quote_currency_balance = :quote_currency_balance,
		total_value_locked     = :total_value_locked,
		unrealized_pnl         = :unrealized_pnl,
		realized_pnl           = :realized_pnl,
		last_rebalance_at      = :last_rebalance_at,
		updated_at             = now()
	WHERE id = :id`

// Update persists the pool's balances and P&L.
func (r *PoolRepository) Update(ctx context.Context, p *domain.Pool) error {
	res, err := r.db.NamedExecContext(ctx, poolUpdate, p)
	if err != nil {
		return fmt.Errorf("pool_repo.Update: %w", err)
	}
	return requireRow(res, domain.ErrPoolNotFound, "pool_repo.Update")
}

// UpdateTx is Update within an existing transaction.
func (r *PoolRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, p *domain.Pool) error {
	res, err := tx.NamedExecContext(ctx, poolUpdate, p)
	if err != nil {
		return fmt.Errorf("pool_repo.UpdateTx: %w", err)
	}
	return requireRow(res, domain.ErrPoolNotFound, "pool_repo.UpdateTx")
}
