package repository

import (
	"context"
	"fmt"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/evetabi/marketmaker/internal/engine"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TickStore is the engine's persistence surface backed by Postgres. Reads
// go straight to the repositories; CommitTick wraps one tick's mutations
// and audit entries in a single transaction so a pool movement can never
// land without its history.
type TickStore struct {
	db      *sqlx.DB
	makers  *MarketMakerRepository
	pools   *PoolRepository
	bots    *BotRepository
	history *HistoryRepository
}

// NewTickStore wires the repositories behind the engine.Store interface.
func NewTickStore(db *sqlx.DB, makers *MarketMakerRepository, pools *PoolRepository, bots *BotRepository, history *HistoryRepository) *TickStore {
	return &TickStore{db: db, makers: makers, pools: pools, bots: bots, history: history}
}

var _ engine.Store = (*TickStore)(nil)

func (s *TickStore) GetMarketMaker(ctx context.Context, id uuid.UUID) (*domain.MarketMaker, error) {
	return s.makers.GetByID(ctx, id)
}

func (s *TickStore) ListActiveMarketMakers(ctx context.Context) ([]*domain.MarketMaker, error) {
	return s.makers.ListActive(ctx)
}

func (s *TickStore) GetPool(ctx context.Context, mmID uuid.UUID) (*domain.Pool, error) {
	return s.pools.GetByMarketMaker(ctx, mmID)
}

func (s *TickStore) ListBots(ctx context.Context, mmID uuid.UUID) ([]*domain.Bot, error) {
	return s.bots.ListByMarketMaker(ctx, mmID)
}

// CommitTick persists one tick's state changes atomically. The market
// maker row is locked first to fix the lock order against admin writes.
func (s *TickStore) CommitTick(ctx context.Context, commit *engine.TickCommit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tick_store.CommitTick begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.makers.GetForUpdateTx(ctx, tx, commit.MarketMaker.ID); err != nil {
		return err
	}
	if err := s.makers.UpdateTx(ctx, tx, commit.MarketMaker); err != nil {
		return err
	}
	if commit.Pool != nil {
		if err := s.pools.UpdateTx(ctx, tx, commit.Pool); err != nil {
			return err
		}
	}
	for _, b := range commit.Bots {
		if err := s.bots.UpdateTx(ctx, tx, b); err != nil {
			return err
		}
	}
	if err := s.history.AppendTx(ctx, tx, commit.Entries...); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tick_store.CommitTick commit: %w", err)
	}
	return nil
}

// AppendHistory writes a single entry outside any tick transaction.
func (s *TickStore) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	return s.history.Append(ctx, entry)
}
