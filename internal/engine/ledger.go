package engine

import (
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Pool ledger
// ──────────────────────────────────────────────────────────────────────────────

// position tracks a signed quantity and its weighted-average entry price.
type position struct {
	qty      decimal.Decimal // positive = long, negative = short
	avgEntry decimal.Decimal
}

// PoolLedger is the sole owner of pool balance and P&L mutations. Real
// fills settle against the bot's persisted position counters; simulated
// AI-to-AI crosses settle against in-memory positions only, so the bots'
// real-performance counters stay untouched by simulation.
type PoolLedger struct {
	// sim holds simulated positions keyed by bot ID. Like swing state, it
	// lives in runner memory only: a restart drops open simulated exposure
	// and unrealized P&L re-bases at the next recompute, while the pool
	// balances keep every settled move.
	sim map[uuid.UUID]*position
}

// NewPoolLedger creates a ledger with no simulated positions.
func NewPoolLedger() *PoolLedger {
	return &PoolLedger{sim: make(map[uuid.UUID]*position)}
}

// Apply settles one fill against the pool and the bot's position:
// balances move by the signed trade amount, the entry price follows
// weighted-average cost on same-direction adds, and P&L is realized on
// direction-reducing fills. Returns the realized P&L of this fill.
//
// A fill that would drive a balance negative is rejected with
// domain.ErrInsufficientPoolBalance and changes nothing.
func (l *PoolLedger) Apply(pool *domain.Pool, bot *domain.Bot, fill *domain.Fill) (decimal.Decimal, error) {
	notional := fill.Notional()

	// Balance check first: reject before touching anything.
	if fill.Order.Side == domain.SideBuy {
		if !pool.CanDebit(false, notional) {
			return decimal.Zero, domain.ErrInsufficientPoolBalance
		}
		pool.BaseCurrencyBalance = pool.BaseCurrencyBalance.Add(fill.Amount)
		pool.QuoteCurrencyBalance = pool.QuoteCurrencyBalance.Sub(notional)
	} else {
		if !pool.CanDebit(true, fill.Amount) {
			return decimal.Zero, domain.ErrInsufficientPoolBalance
		}
		pool.BaseCurrencyBalance = pool.BaseCurrencyBalance.Sub(fill.Amount)
		pool.QuoteCurrencyBalance = pool.QuoteCurrencyBalance.Add(notional)
	}

	var realized decimal.Decimal
	if fill.Real {
		pos := position{qty: bot.CurrentPosition, avgEntry: bot.AvgEntryPrice}
		realized = applyToPosition(&pos, fill.Order.Side, fill.Price, fill.Amount)

		bot.CurrentPosition = pos.qty
		bot.AvgEntryPrice = pos.avgEntry
		bot.RealTradesExecuted++
		bot.TotalVolume = bot.TotalVolume.Add(notional)
		bot.TotalRealizedPnL = bot.TotalRealizedPnL.Add(realized)
		if realized.IsPositive() {
			bot.ProfitableTrades++
		}
	} else {
		pos := l.sim[bot.ID]
		if pos == nil {
			pos = &position{}
			l.sim[bot.ID] = pos
		}
		realized = applyToPosition(pos, fill.Order.Side, fill.Price, fill.Amount)
	}

	pool.RealizedPnL = pool.RealizedPnL.Add(realized)
	return realized, nil
}

// Recompute refreshes the pool's unrealized P&L and total value locked at
// the given mark price. Unrealized P&L sums (price − avgEntry) × position
// over every open position, real and simulated.
func (l *PoolLedger) Recompute(pool *domain.Pool, bots []*domain.Bot, price decimal.Decimal) {
	unrealized := decimal.Zero
	for _, b := range bots {
		if !b.CurrentPosition.IsZero() {
			unrealized = unrealized.Add(price.Sub(b.AvgEntryPrice).Mul(b.CurrentPosition))
		}
	}
	for _, pos := range l.sim {
		if !pos.qty.IsZero() {
			unrealized = unrealized.Add(price.Sub(pos.avgEntry).Mul(pos.qty))
		}
	}
	pool.UnrealizedPnL = unrealized
	pool.RecomputeTVL(price)
}

// Rebalance moves pool balances toward an even base/quote value split at
// the given price and stamps LastRebalanceAt. Returns the applied deltas.
func (l *PoolLedger) Rebalance(pool *domain.Pool, price decimal.Decimal, now time.Time, trigger string) domain.RebalanceDetails {
	d := domain.RebalanceDetails{Trigger: trigger}
	if price.IsZero() {
		return d
	}

	total := pool.ValueAt(price)
	targetBaseValue := total.Div(decimal.NewFromInt(2))
	targetBase := targetBaseValue.Div(price)

	d.BaseDelta = targetBase.Sub(pool.BaseCurrencyBalance)
	d.QuoteDelta = d.BaseDelta.Neg().Mul(price)

	pool.BaseCurrencyBalance = targetBase
	pool.QuoteCurrencyBalance = pool.QuoteCurrencyBalance.Add(d.QuoteDelta)
	pool.RecomputeTVL(price)

	t := now
	pool.LastRebalanceAt = &t
	return d
}

// SimPosition returns the simulated position for a bot; zero values when
// the bot has no simulated exposure. Exposed for tests and status views.
func (l *PoolLedger) SimPosition(botID uuid.UUID) (qty, avgEntry decimal.Decimal) {
	if pos := l.sim[botID]; pos != nil {
		return pos.qty, pos.avgEntry
	}
	return decimal.Zero, decimal.Zero
}

// applyToPosition applies a fill to a signed position using
// weighted-average cost, returning the realized P&L:
//
//   - same-direction adds re-weight the average entry price;
//   - direction-reducing fills realize (price − avgEntry) × closed quantity
//     (sign-adjusted for shorts);
//   - fills crossing through zero realize the full old position and open
//     the remainder at the fill price.
func applyToPosition(pos *position, side domain.OrderSide, price, amount decimal.Decimal) decimal.Decimal {
	signed := amount
	if side == domain.SideSell {
		signed = amount.Neg()
	}

	// Flat or same-direction: weighted-average cost, nothing realized.
	if pos.qty.IsZero() || pos.qty.Sign() == signed.Sign() {
		newQty := pos.qty.Add(signed)
		totalCost := pos.avgEntry.Mul(pos.qty.Abs()).Add(price.Mul(amount))
		pos.avgEntry = totalCost.Div(newQty.Abs())
		pos.qty = newQty
		return decimal.Zero
	}

	// Direction-reducing: realize on the closed quantity.
	closeQty := decimal.Min(pos.qty.Abs(), amount)
	perUnit := price.Sub(pos.avgEntry)
	if pos.qty.IsNegative() {
		perUnit = perUnit.Neg() // short: profit when price fell below entry
	}
	realized := perUnit.Mul(closeQty)

	newQty := pos.qty.Add(signed)
	if newQty.IsZero() {
		pos.qty = decimal.Zero
		pos.avgEntry = decimal.Zero
	} else if newQty.Sign() == pos.qty.Sign() {
		pos.qty = newQty // partial close; entry price unchanged
	} else {
		pos.qty = newQty // crossed through zero; remainder opens at fill price
		pos.avgEntry = price
	}
	return realized
}
