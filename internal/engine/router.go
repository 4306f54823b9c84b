package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Liquidity router
// ──────────────────────────────────────────────────────────────────────────────

// LiquidityRouter splits candidate orders between the real order book and
// pure simulation according to realLiquidityPercent. The real and simulated
// paths never cross: a failed real submission is retried once and then
// dropped — it must not degrade into a simulated fill, or the bots'
// real-performance counters would be corrupted.
type LiquidityRouter struct {
	book          OrderBook
	submitTimeout time.Duration
	logger        *slog.Logger
}

// NewLiquidityRouter builds a router over the given order-book client.
func NewLiquidityRouter(book OrderBook, submitTimeout time.Duration, logger *slog.Logger) *LiquidityRouter {
	return &LiquidityRouter{book: book, submitTimeout: submitTimeout, logger: logger}
}

// Route dispatches one candidate order. With probability
// realLiquidityPercent/100 it goes to the real book; otherwise it settles
// as an AI-only simulated cross at the candidate price.
//
// Returns (nil, error) when a real submission was dropped; the tick
// continues with the remaining orders.
func (lr *LiquidityRouter) Route(ctx context.Context, mm *domain.MarketMaker, order domain.Order, rng *rand.Rand) (*domain.Fill, error) {
	real := rng.Float64()*100 < mm.RealLiquidityPercent.InexactFloat64()
	if !real {
		return &domain.Fill{
			Order:  order,
			Price:  order.Price,
			Amount: order.Amount,
			Real:   false,
		}, nil
	}
	return lr.submitReal(ctx, order)
}

// submitReal sends the order to the real book with a bounded timeout,
// retrying a rejection or timeout at most once this tick.
func (lr *LiquidityRouter) submitReal(ctx context.Context, order domain.Order) (*domain.Fill, error) {
	req := OrderRequest{
		MarketRef: order.MarketRef,
		Side:      order.Side,
		Price:     order.Price,
		Amount:    order.Amount,
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		submitCtx, cancel := context.WithTimeout(ctx, lr.submitTimeout)
		res, err := lr.book.SubmitOrder(submitCtx, req)
		cancel()

		if err == nil {
			return &domain.Fill{
				Order:    order,
				Price:    res.FillPrice,
				Amount:   res.FillAmount,
				Real:     true,
				OrderRef: res.OrderRef,
			}, nil
		}
		lastErr = err

		var rej *RejectionError
		switch {
		case errors.As(err, &rej):
			lr.logger.Warn("real order rejected",
				"market_ref", order.MarketRef, "side", order.Side,
				"attempt", attempt, "reason", rej.Reason)
		case errors.Is(err, context.DeadlineExceeded):
			lr.logger.Warn("real order submission timed out",
				"market_ref", order.MarketRef, "side", order.Side, "attempt", attempt)
		default:
			lr.logger.Warn("real order submission failed",
				"market_ref", order.MarketRef, "side", order.Side,
				"attempt", attempt, "err", err)
		}

		if ctx.Err() != nil {
			break // loop is shutting down; do not retry
		}
	}

	return nil, fmt.Errorf("router: order dropped after retry: %w: %w", domain.ErrOrderRejected, lastErr)
}
