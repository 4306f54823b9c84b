package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Pool holds the liquidity reserves of exactly one MarketMaker (1:1).
// Balances never go negative; TotalValueLocked is derived from balances and
// the current price and is recomputed on every mutation, never trusted as
// independently stored ground truth.
type Pool struct {
	ID            uuid.UUID `json:"id"              db:"id"`
	MarketMakerID uuid.UUID `json:"market_maker_id" db:"market_maker_id"`

	BaseCurrencyBalance  decimal.Decimal `json:"base_currency_balance"  db:"base_currency_balance"`
	QuoteCurrencyBalance decimal.Decimal `json:"quote_currency_balance" db:"quote_currency_balance"`

	InitialBaseBalance  decimal.Decimal `json:"initial_base_balance"  db:"initial_base_balance"`
	InitialQuoteBalance decimal.Decimal `json:"initial_quote_balance" db:"initial_quote_balance"`

	TotalValueLocked decimal.Decimal `json:"total_value_locked" db:"total_value_locked"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"     db:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"       db:"realized_pnl"`

	LastRebalanceAt *time.Time `json:"last_rebalance_at" db:"last_rebalance_at"`
	CreatedAt       time.Time  `json:"created_at"        db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"        db:"updated_at"`
}

// ValueAt computes total value locked at the given price:
// base*price + quote.
func (p *Pool) ValueAt(price decimal.Decimal) decimal.Decimal {
	return p.BaseCurrencyBalance.Mul(price).Add(p.QuoteCurrencyBalance)
}

// RecomputeTVL refreshes TotalValueLocked from balances and price.
func (p *Pool) RecomputeTVL(price decimal.Decimal) {
	p.TotalValueLocked = p.ValueAt(price)
}

// CanDebit reports whether the pool holds enough of the given currency.
func (p *Pool) CanDebit(base bool, amount decimal.Decimal) bool {
	if base {
		return p.BaseCurrencyBalance.GreaterThanOrEqual(amount)
	}
	return p.QuoteCurrencyBalance.GreaterThanOrEqual(amount)
}
