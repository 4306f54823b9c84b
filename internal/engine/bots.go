package engine

import (
	"math/rand"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Bot manager
// ──────────────────────────────────────────────────────────────────────────────

// per-tick trade probabilities by frequency bucket, further scaled by risk
// tolerance below.
var tradeProbability = map[domain.TradeFrequency]float64{
	domain.FrequencyHigh:   0.8,
	domain.FrequencyMedium: 0.45,
	domain.FrequencyLow:    0.15,
}

// swingHoldTicks bounds how long a SWING bot keeps one direction.
const (
	swingHoldMin = 4
	swingHoldMax = 12
)

// swingState carries a SWING bot's directional bias across ticks. It lives
// in runner memory only; losing it on restart just re-rolls the direction.
type swingState struct {
	side      domain.OrderSide
	ticksLeft int
}

// BotManager evaluates each bot against the synthesized mid price and emits
// candidate orders. It never touches the pool ledger; orders go to the
// liquidity router.
type BotManager struct {
	swings   map[uuid.UUID]*swingState      // keyed by bot ID
	lastSide map[uuid.UUID]domain.OrderSide // scalper alternation state
}

// NewBotManager creates a BotManager with empty per-bot state.
func NewBotManager() *BotManager {
	return &BotManager{
		swings:   make(map[uuid.UUID]*swingState),
		lastSide: make(map[uuid.UUID]domain.OrderSide),
	}
}

// Evaluate decides whether bot trades this tick and, if so, produces its
// candidate orders. Every attempted order increments DailyTradeCount —
// attempts, not fills, bound the request rate. When the daily cap is
// reached the bot flips to COOLDOWN until the external daily reset clears
// it; the second return reports whether the bot's row changed.
func (bm *BotManager) Evaluate(bot *domain.Bot, mm *domain.MarketMaker, mid decimal.Decimal, rng *rand.Rand) ([]domain.Order, bool) {
	if bot.Status != domain.BotStatusActive || mm.LastKnownPrice.IsZero() {
		return nil, false
	}
	if !bot.CanTrade() {
		bot.Status = domain.BotStatusCooldown
		return nil, true
	}

	// Trade probability: frequency bucket scaled by risk tolerance.
	// Tolerance 0.1 → ×0.55, tolerance 1.0 → ×1.0.
	p := tradeProbability[bot.TradeFrequency] * (0.5 + bot.RiskTolerance.InexactFloat64()/2)
	if rng.Float64() >= p {
		return nil, false
	}

	sides := bm.chooseSides(bot, rng)

	var orders []domain.Order
	dirty := false
	for _, side := range sides {
		if !bot.CanTrade() {
			bot.Status = domain.BotStatusCooldown
			dirty = true
			break
		}
		bot.DailyTradeCount++
		dirty = true

		orders = append(orders, domain.Order{
			BotID:     bot.ID,
			MarketRef: mm.MarketRef,
			Side:      side,
			Price:     bm.orderPrice(bot, mid, side),
			Amount:    bm.orderSize(bot, rng),
		})
	}
	if !bot.CanTrade() {
		bot.Status = domain.BotStatusCooldown
	}
	return orders, dirty
}

// chooseSides picks the order side(s) by personality.
func (bm *BotManager) chooseSides(bot *domain.Bot, rng *rand.Rand) []domain.OrderSide {
	switch bot.Personality {
	case domain.PersonalityScalper:
		// Alternate rapidly around the mid.
		side := bm.lastSide[bot.ID].Opposite()
		bm.lastSide[bot.ID] = side
		return []domain.OrderSide{side}

	case domain.PersonalitySwing:
		st := bm.swings[bot.ID]
		if st == nil || st.ticksLeft <= 0 {
			side := domain.SideBuy
			if rng.Float64() < 0.5 {
				side = domain.SideSell
			}
			st = &swingState{
				side:      side,
				ticksLeft: swingHoldMin + rng.Intn(swingHoldMax-swingHoldMin+1),
			}
			bm.swings[bot.ID] = st
		}
		st.ticksLeft--
		return []domain.OrderSide{st.side}

	case domain.PersonalityAccumulator:
		if rng.Float64() < 0.8 {
			return []domain.OrderSide{domain.SideBuy}
		}
		return []domain.OrderSide{domain.SideSell}

	case domain.PersonalityDistributor:
		if rng.Float64() < 0.8 {
			return []domain.OrderSide{domain.SideSell}
		}
		return []domain.OrderSide{domain.SideBuy}

	default: // MARKET_MAKER quotes both sides symmetrically
		return []domain.OrderSide{domain.SideBuy, domain.SideSell}
	}
}

// orderPrice offsets the mid by half the preferred spread: buys below,
// sells above.
func (bm *BotManager) orderPrice(bot *domain.Bot, mid decimal.Decimal, side domain.OrderSide) decimal.Decimal {
	half := mid.Mul(bot.PreferredSpread).Div(decimal.NewFromInt(2))
	if side == domain.SideBuy {
		return mid.Sub(half)
	}
	return mid.Add(half)
}

// orderSize draws uniformly within the variance band:
// avgOrderSize × (1 ± orderSizeVariance). Higher risk tolerance stretches
// the upper half of the band.
func (bm *BotManager) orderSize(bot *domain.Bot, rng *rand.Rand) decimal.Decimal {
	u := rng.Float64()*2 - 1 // uniform in [-1, 1]
	if u > 0 {
		u *= bot.RiskTolerance.InexactFloat64()
	}
	factor := one.Add(bot.OrderSizeVariance.Mul(decimal.NewFromFloat(u)))
	size := bot.AvgOrderSize.Mul(factor)
	if size.IsNegative() || size.IsZero() {
		size = bot.AvgOrderSize
	}
	return size.Round(8)
}

// Forget drops per-bot in-memory state, e.g. when a bot is removed.
func (bm *BotManager) Forget(botID uuid.UUID) {
	delete(bm.swings, botID)
	delete(bm.lastSide, botID)
}
