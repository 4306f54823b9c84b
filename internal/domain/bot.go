package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// Personality determines how a bot chooses order sides around the mid price.
type Personality string

const (
	PersonalityScalper     Personality = "SCALPER"      // alternates rapidly around mid
	PersonalitySwing       Personality = "SWING"        // holds a directional bias for several ticks
	PersonalityAccumulator Personality = "ACCUMULATOR"  // biases BUY
	PersonalityDistributor Personality = "DISTRIBUTOR"  // biases SELL
	PersonalityMarketMaker Personality = "MARKET_MAKER" // quotes both sides symmetrically
)

// IsValid returns true for a recognised personality.
func (p Personality) IsValid() bool {
	switch p {
	case PersonalityScalper, PersonalitySwing, PersonalityAccumulator,
		PersonalityDistributor, PersonalityMarketMaker:
		return true
	}
	return false
}

// TradeFrequency buckets how often a bot attempts a trade per tick.
type TradeFrequency string

const (
	FrequencyHigh   TradeFrequency = "HIGH"
	FrequencyMedium TradeFrequency = "MEDIUM"
	FrequencyLow    TradeFrequency = "LOW"
)

// IsValid returns true for a recognised frequency bucket.
func (f TradeFrequency) IsValid() bool {
	return f == FrequencyHigh || f == FrequencyMedium || f == FrequencyLow
}

// BotStatus represents the lifecycle state of a bot.
type BotStatus string

const (
	BotStatusActive   BotStatus = "ACTIVE"
	BotStatusPaused   BotStatus = "PAUSED"
	BotStatusCooldown BotStatus = "COOLDOWN" // daily trade cap reached; cleared by the daily reset
)

// IsValid returns true for a recognised bot status.
func (s BotStatus) IsValid() bool {
	return s == BotStatusActive || s == BotStatusPaused || s == BotStatusCooldown
}

// OrderSide is the direction of a candidate order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ──────────────────────────────────────────────────────────────────────────────
// Bot
// ──────────────────────────────────────────────────────────────────────────────

// Bot is one personality-driven trading agent belonging to a MarketMaker.
//
// The Real* counters accrue exclusively from fills against real
// counterparties routed through the order book; simulated AI-to-AI crosses
// never touch them. That separation is a core ledger invariant.
type Bot struct {
	ID            uuid.UUID `json:"id"              db:"id"`
	MarketMakerID uuid.UUID `json:"market_maker_id" db:"market_maker_id"`
	Name          string    `json:"name"            db:"name"`

	Personality       Personality     `json:"personality"         db:"personality"`
	RiskTolerance     decimal.Decimal `json:"risk_tolerance"      db:"risk_tolerance"`
	TradeFrequency    TradeFrequency  `json:"trade_frequency"     db:"trade_frequency"`
	AvgOrderSize      decimal.Decimal `json:"avg_order_size"      db:"avg_order_size"`
	OrderSizeVariance decimal.Decimal `json:"order_size_variance" db:"order_size_variance"`
	PreferredSpread   decimal.Decimal `json:"preferred_spread"    db:"preferred_spread"`

	Status          BotStatus `json:"status"            db:"status"`
	DailyTradeCount int       `json:"daily_trade_count" db:"daily_trade_count"`
	MaxDailyTrades  int       `json:"max_daily_trades"  db:"max_daily_trades"`

	// Real-performance counters — real-counterparty fills only.
	RealTradesExecuted int             `json:"real_trades_executed" db:"real_trades_executed"`
	ProfitableTrades   int             `json:"profitable_trades"    db:"profitable_trades"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"   db:"total_realized_pnl"`
	TotalVolume        decimal.Decimal `json:"total_volume"         db:"total_volume"`
	CurrentPosition    decimal.Decimal `json:"current_position"     db:"current_position"`
	AvgEntryPrice      decimal.Decimal `json:"avg_entry_price"      db:"avg_entry_price"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CanTrade reports whether the bot may attempt an order this tick.
func (b *Bot) CanTrade() bool {
	return b.Status == BotStatusActive && b.DailyTradeCount < b.MaxDailyTrades
}

// validation bounds for bot configuration fields.
var (
	minRiskTolerance  = decimal.NewFromFloat(0.1)
	minSizeVariance   = decimal.NewFromFloat(0.1)
	maxSizeVariance   = decimal.NewFromFloat(0.5)
	minSpread         = decimal.NewFromFloat(0.0001)
	maxSpread         = decimal.NewFromFloat(0.1)
)

// ValidateConfig checks the bot's configurable fields against their allowed
// ranges. Invoked at the write boundary; idempotent for valid configs.
func (b *Bot) ValidateConfig() error {
	if b.Name == "" {
		return ErrInvalidConfig("bot name must not be empty")
	}
	if !b.Personality.IsValid() {
		return ErrInvalidConfig("personality is not recognised")
	}
	if !b.TradeFrequency.IsValid() {
		return ErrInvalidConfig("trade_frequency must be HIGH, MEDIUM or LOW")
	}
	if !b.Status.IsValid() {
		return ErrInvalidConfig("bot status must be ACTIVE, PAUSED or COOLDOWN")
	}
	if b.RiskTolerance.LessThan(minRiskTolerance) || b.RiskTolerance.GreaterThan(one) {
		return ErrInvalidConfigf("risk_tolerance must be within [0.1, 1.0], got %s", b.RiskTolerance)
	}
	if b.OrderSizeVariance.LessThan(minSizeVariance) || b.OrderSizeVariance.GreaterThan(maxSizeVariance) {
		return ErrInvalidConfig("order_size_variance must be within [0.1, 0.5]")
	}
	if b.PreferredSpread.LessThan(minSpread) || b.PreferredSpread.GreaterThan(maxSpread) {
		return ErrInvalidConfig("preferred_spread must be within [0.0001, 0.1]")
	}
	if b.AvgOrderSize.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidConfig("avg_order_size must be positive")
	}
	if b.MaxDailyTrades <= 0 {
		return ErrInvalidConfig("max_daily_trades must be positive")
	}
	return nil
}
