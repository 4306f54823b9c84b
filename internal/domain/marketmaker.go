// Package domain defines the core business entities and types for the
// AI market-maker simulation and liquidity-accounting engine.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// MMStatus represents the lifecycle state of a MarketMaker instance.
type MMStatus string

const (
	MMStatusActive  MMStatus = "ACTIVE"  // tick loop running
	MMStatusPaused  MMStatus = "PAUSED"  // frozen; resumable
	MMStatusStopped MMStatus = "STOPPED" // halted; requires explicit start
)

// IsValid returns true if the status is a recognised lifecycle state.
func (s MMStatus) IsValid() bool {
	return s == MMStatusActive || s == MMStatusPaused || s == MMStatusStopped
}

// Phase is one of the four market regimes the price process cycles through.
type Phase string

const (
	PhaseAccumulation Phase = "ACCUMULATION"
	PhaseMarkup       Phase = "MARKUP"
	PhaseDistribution Phase = "DISTRIBUTION"
	PhaseMarkdown     Phase = "MARKDOWN"
)

// IsValid returns true if the phase is one of the four regimes.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseAccumulation, PhaseMarkup, PhaseDistribution, PhaseMarkdown:
		return true
	}
	return false
}

// Next returns the canonical successor in the phase cycle
// ACCUMULATION → MARKUP → DISTRIBUTION → MARKDOWN → ACCUMULATION.
func (p Phase) Next() Phase {
	switch p {
	case PhaseAccumulation:
		return PhaseMarkup
	case PhaseMarkup:
		return PhaseDistribution
	case PhaseDistribution:
		return PhaseMarkdown
	default:
		return PhaseAccumulation
	}
}

// Bullish reports whether the phase biases price upward.
func (p Phase) Bullish() bool {
	return p == PhaseAccumulation || p == PhaseMarkup
}

// PriceMode selects how the synthesizer uses the external reference feed.
type PriceMode string

const (
	PriceModeAutonomous     PriceMode = "AUTONOMOUS"      // internal model only
	PriceModeFollowExternal PriceMode = "FOLLOW_EXTERNAL" // external price wins
	PriceModeHybrid         PriceMode = "HYBRID"          // weighted blend
)

// IsValid returns true for a recognised price mode.
func (m PriceMode) IsValid() bool {
	return m == PriceModeAutonomous || m == PriceModeFollowExternal || m == PriceModeHybrid
}

// UsesExternal reports whether the mode consults the external feed at all.
func (m PriceMode) UsesExternal() bool {
	return m == PriceModeFollowExternal || m == PriceModeHybrid
}

// Bias is the admin-supplied directional guidance for the price process.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// IsValid returns true for a recognised bias direction.
func (b Bias) IsValid() bool {
	return b == BiasBullish || b == BiasBearish || b == BiasNeutral
}

// Sign returns +1 for BULLISH, -1 for BEARISH and 0 for NEUTRAL as a decimal.
func (b Bias) Sign() decimal.Decimal {
	switch b {
	case BiasBullish:
		return decimal.NewFromInt(1)
	case BiasBearish:
		return decimal.NewFromInt(-1)
	default:
		return decimal.Zero
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketMaker
// ──────────────────────────────────────────────────────────────────────────────

// MarketMaker is the configured, per-trading-pair instance of the simulation
// and liquidity engine. One row per managed market (unique on MarketRef).
//
// Optional price fields are pointers: "unset" is a real state the engine must
// handle explicitly, never a silently defaulted zero.
type MarketMaker struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	MarketRef string    `json:"market_ref" db:"market_ref"`
	Status    MMStatus  `json:"status"     db:"status"`

	// Price targeting
	TargetPrice    *decimal.Decimal `json:"target_price"     db:"target_price"`
	PriceRangeLow  *decimal.Decimal `json:"price_range_low"  db:"price_range_low"`
	PriceRangeHigh *decimal.Decimal `json:"price_range_high" db:"price_range_high"`

	// Behaviour tuning
	AggressionLevel      decimal.Decimal `json:"aggression_level"        db:"aggression_level"`
	MaxDailyVolume       decimal.Decimal `json:"max_daily_volume"        db:"max_daily_volume"`
	CurrentDailyVolume   decimal.Decimal `json:"current_daily_volume"    db:"current_daily_volume"`
	VolatilityThreshold  decimal.Decimal `json:"volatility_threshold"    db:"volatility_threshold"`
	PauseOnHighVolatility bool           `json:"pause_on_high_volatility" db:"pause_on_high_volatility"`
	RealLiquidityPercent decimal.Decimal `json:"real_liquidity_percent"  db:"real_liquidity_percent"`

	// Price mode
	PriceMode           PriceMode       `json:"price_mode"           db:"price_mode"`
	ExternalSymbol      *string         `json:"external_symbol"      db:"external_symbol"`
	CorrelationStrength decimal.Decimal `json:"correlation_strength" db:"correlation_strength"`

	// Bias
	MarketBias   Bias            `json:"market_bias"   db:"market_bias"`
	BiasStrength decimal.Decimal `json:"bias_strength" db:"bias_strength"`

	// Phase state
	CurrentPhase      Phase            `json:"current_phase"        db:"current_phase"`
	PhaseStartedAt    time.Time        `json:"phase_started_at"     db:"phase_started_at"`
	NextPhaseChangeAt time.Time        `json:"next_phase_change_at" db:"next_phase_change_at"`
	PhaseTargetPrice  *decimal.Decimal `json:"phase_target_price"   db:"phase_target_price"`

	// Volatility model
	BaseVolatility       decimal.Decimal `json:"base_volatility"       db:"base_volatility"`
	VolatilityMultiplier decimal.Decimal `json:"volatility_multiplier" db:"volatility_multiplier"`
	MomentumDecay        decimal.Decimal `json:"momentum_decay"        db:"momentum_decay"`

	// Running state, carried tick to tick
	LastKnownPrice     decimal.Decimal `json:"last_known_price"     db:"last_known_price"`
	TrendMomentum      decimal.Decimal `json:"trend_momentum"       db:"trend_momentum"`
	LastMomentumUpdate time.Time       `json:"last_momentum_update" db:"last_momentum_update"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive returns true while the tick loop is allowed to run.
func (m *MarketMaker) IsActive() bool {
	return m.Status == MMStatusActive
}

// RangeSet reports whether both price range bounds are configured.
func (m *MarketMaker) RangeSet() bool {
	return m.PriceRangeLow != nil && m.PriceRangeHigh != nil
}

// ClampToRange bounds price to [PriceRangeLow, PriceRangeHigh]. Bounds that
// are unset do not constrain. The second return reports whether clamping
// actually moved the price.
func (m *MarketMaker) ClampToRange(price decimal.Decimal) (decimal.Decimal, bool) {
	clamped := price
	if m.PriceRangeLow != nil && clamped.LessThan(*m.PriceRangeLow) {
		clamped = *m.PriceRangeLow
	}
	if m.PriceRangeHigh != nil && clamped.GreaterThan(*m.PriceRangeHigh) {
		clamped = *m.PriceRangeHigh
	}
	return clamped, !clamped.Equal(price)
}

// EffectiveTarget returns the price the synthesizer should pull toward:
// the phase target when set, else the configured target, else the last
// known price (no pull).
func (m *MarketMaker) EffectiveTarget() decimal.Decimal {
	if m.PhaseTargetPrice != nil {
		return *m.PhaseTargetPrice
	}
	if m.TargetPrice != nil {
		return *m.TargetPrice
	}
	return m.LastKnownPrice
}

// ──────────────────────────────────────────────────────────────────────────────
// Configuration validation
// ──────────────────────────────────────────────────────────────────────────────

// validation bounds shared with ValidateConfig.
var (
	minVolatilityMultiplier = decimal.NewFromFloat(0.5)
	maxVolatilityMultiplier = decimal.NewFromFloat(2.0)
	minMomentumDecay        = decimal.NewFromFloat(0.8)
	maxMomentumDecay        = decimal.NewFromFloat(0.999)
	hundred                 = decimal.NewFromInt(100)
	one                     = decimal.NewFromInt(1)
)

// ValidateConfig checks all cross-field invariants of a MarketMaker
// configuration. It is invoked at every write boundary (create and config
// update) so invalid configurations are rejected synchronously and never
// reach the tick loop. Idempotent: re-validating an unchanged valid
// configuration never fails.
func (m *MarketMaker) ValidateConfig() error {
	if m.MarketRef == "" {
		return ErrInvalidConfig("market_ref must not be empty")
	}
	if !m.Status.IsValid() {
		return ErrInvalidConfig("status must be ACTIVE, PAUSED or STOPPED")
	}
	if !m.PriceMode.IsValid() {
		return ErrInvalidConfig("price_mode must be AUTONOMOUS, FOLLOW_EXTERNAL or HYBRID")
	}
	if !m.MarketBias.IsValid() {
		return ErrInvalidConfig("market_bias must be BULLISH, BEARISH or NEUTRAL")
	}
	if !m.CurrentPhase.IsValid() {
		return ErrInvalidConfig("current_phase is not a recognised phase")
	}

	if m.PriceRangeLow != nil && m.PriceRangeHigh != nil {
		if !m.PriceRangeLow.LessThan(*m.PriceRangeHigh) {
			return ErrInvalidConfig("price_range_low must be strictly below price_range_high")
		}
		if m.TargetPrice != nil {
			if m.TargetPrice.LessThan(*m.PriceRangeLow) || m.TargetPrice.GreaterThan(*m.PriceRangeHigh) {
				return ErrInvalidConfig("target_price must lie within [price_range_low, price_range_high]")
			}
		}
	}

	if m.RealLiquidityPercent.IsNegative() || m.RealLiquidityPercent.GreaterThan(hundred) {
		return ErrInvalidConfig("real_liquidity_percent must be within [0, 100]")
	}
	if m.CorrelationStrength.IsNegative() || m.CorrelationStrength.GreaterThan(hundred) {
		return ErrInvalidConfig("correlation_strength must be within [0, 100]")
	}
	if m.BiasStrength.IsNegative() || m.BiasStrength.GreaterThan(hundred) {
		return ErrInvalidConfig("bias_strength must be within [0, 100]")
	}
	if m.PriceMode.UsesExternal() && (m.ExternalSymbol == nil || *m.ExternalSymbol == "") {
		return ErrInvalidConfig("external_symbol is required in FOLLOW_EXTERNAL and HYBRID modes")
	}

	if m.VolatilityMultiplier.LessThan(minVolatilityMultiplier) ||
		m.VolatilityMultiplier.GreaterThan(maxVolatilityMultiplier) {
		return ErrInvalidConfigf("volatility_multiplier must be within [0.5, 2.0], got %s", m.VolatilityMultiplier)
	}
	if m.MomentumDecay.LessThan(minMomentumDecay) || m.MomentumDecay.GreaterThan(maxMomentumDecay) {
		return ErrInvalidConfigf("momentum_decay must be within [0.8, 0.999], got %s", m.MomentumDecay)
	}
	if m.BaseVolatility.IsNegative() {
		return ErrInvalidConfig("base_volatility must not be negative")
	}
	if m.AggressionLevel.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidConfig("aggression_level must be positive")
	}
	if m.MaxDailyVolume.IsNegative() {
		return ErrInvalidConfig("max_daily_volume must not be negative")
	}
	if m.VolatilityThreshold.IsNegative() {
		return ErrInvalidConfig("volatility_threshold must not be negative")
	}

	if m.TrendMomentum.LessThan(decimal.NewFromInt(-1)) || m.TrendMomentum.GreaterThan(one) {
		return ErrInvalidConfig("trend_momentum must be within [-1, 1]")
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketMakerStatus — read model for the admin/reporting surface
// ──────────────────────────────────────────────────────────────────────────────

// MarketMakerStatus is a derived, read-only view combining the instance and
// its pool for status endpoints and WS broadcasts.
type MarketMakerStatus struct {
	ID             uuid.UUID       `json:"id"`
	MarketRef      string          `json:"market_ref"`
	Status         MMStatus        `json:"status"`
	CurrentPhase   Phase           `json:"current_phase"`
	LastKnownPrice decimal.Decimal `json:"last_known_price"`
	TrendMomentum  decimal.Decimal `json:"trend_momentum"`
	BaseBalance    decimal.Decimal `json:"base_balance"`
	QuoteBalance   decimal.Decimal `json:"quote_balance"`
	TotalValue     decimal.Decimal `json:"total_value_locked"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	DailyVolume    decimal.Decimal `json:"current_daily_volume"`
}

// ToStatus builds the read model from the instance and its pool.
func (m *MarketMaker) ToStatus(p *Pool) MarketMakerStatus {
	s := MarketMakerStatus{
		ID:             m.ID,
		MarketRef:      m.MarketRef,
		Status:         m.Status,
		CurrentPhase:   m.CurrentPhase,
		LastKnownPrice: m.LastKnownPrice,
		TrendMomentum:  m.TrendMomentum,
		DailyVolume:    m.CurrentDailyVolume,
	}
	if p != nil {
		s.BaseBalance = p.BaseCurrencyBalance
		s.QuoteBalance = p.QuoteCurrencyBalance
		s.TotalValue = p.TotalValueLocked
		s.UnrealizedPnL = p.UnrealizedPnL
		s.RealizedPnL = p.RealizedPnL
	}
	return s
}
