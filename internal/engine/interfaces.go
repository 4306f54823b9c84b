// Package engine implements the autonomous market-making simulation:
// the phased price process, the personality-driven bot population, the
// liquidity router, the pool ledger and the risk governor, coordinated by
// one tick loop per MarketMaker instance.
package engine

import (
	"context"
	"fmt"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// External collaborators
// ──────────────────────────────────────────────────────────────────────────────

// PriceFeed supplies the latest external reference price for a symbol.
// Implementations return domain.ErrFeedUnavailable when no price exists.
type PriceFeed interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderRequest is one order submitted to the real order book.
type OrderRequest struct {
	MarketRef string
	Side      domain.OrderSide
	Price     decimal.Decimal
	Amount    decimal.Decimal
}

// OrderResult is a successful real-book execution.
type OrderResult struct {
	FillPrice  decimal.Decimal
	FillAmount decimal.Decimal
	OrderRef   string
}

// RejectionError is returned by an OrderBook when the book refuses an order.
// It is retryable once per tick; after that the order is dropped.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// OrderBook is the real matching-engine collaborator used by the liquidity
// router. SubmitOrder blocks until the book answers or the context expires;
// a context timeout is treated as a routing failure, not a loop stall.
type OrderBook interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Persistence
// ──────────────────────────────────────────────────────────────────────────────

// TickCommit is the complete set of state changes produced by one tick (or
// one admin action). The store persists everything in a single transaction:
// a pool mutation is never committed without its audit entries.
type TickCommit struct {
	MarketMaker *domain.MarketMaker   // updated running state; never nil
	Pool        *domain.Pool          // nil when the tick produced no fills
	Bots        []*domain.Bot         // bots whose counters changed
	Entries     []*domain.HistoryEntry
}

// Store is the persistence surface the engine depends on. The sqlx-backed
// implementation lives in internal/repository; tests use an in-memory fake.
type Store interface {
	GetMarketMaker(ctx context.Context, id uuid.UUID) (*domain.MarketMaker, error)
	ListActiveMarketMakers(ctx context.Context) ([]*domain.MarketMaker, error)
	GetPool(ctx context.Context, marketMakerID uuid.UUID) (*domain.Pool, error)
	ListBots(ctx context.Context, marketMakerID uuid.UUID) ([]*domain.Bot, error)

	// CommitTick atomically persists one tick's state changes plus their
	// audit entries.
	CommitTick(ctx context.Context, commit *TickCommit) error

	// AppendHistory writes a single entry outside a tick commit. Used for
	// EMERGENCY_STOP, which must be recorded regardless of any other
	// transaction outcome.
	AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error
}

// Broadcaster pushes live engine events to connected dashboard clients.
// Implemented by the websocket hub; a nil Broadcaster disables pushes.
type Broadcaster interface {
	BroadcastTick(mm *domain.MarketMaker, pool *domain.Pool)
	BroadcastPhaseChange(mm *domain.MarketMaker, d domain.PhaseChangeDetails)
	BroadcastAutoPause(mm *domain.MarketMaker, d domain.AutoPauseDetails)
}
