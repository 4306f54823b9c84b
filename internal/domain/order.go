package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is a candidate order emitted by the bot manager for one tick.
// It has not been routed yet; the liquidity router decides whether it
// becomes a real order-book submission or an internal simulated cross.
type Order struct {
	BotID     uuid.UUID
	MarketRef string
	Side      OrderSide
	Price     decimal.Decimal
	Amount    decimal.Decimal
}

// Notional returns price*amount, the quote-currency value of the order.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Amount)
}

// Fill is a settled execution of an Order.
type Fill struct {
	Order    Order
	Price    decimal.Decimal // actual execution price
	Amount   decimal.Decimal // actual executed amount
	Real     bool            // true when filled against a real counterparty
	OrderRef string          // order-book reference for real fills
}

// Notional returns the executed quote-currency value.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Amount)
}
