package engine

import (
	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Risk governor
// ──────────────────────────────────────────────────────────────────────────────

// RiskGovernor gates ticks on realized volatility and individual orders on
// the daily volume cap. Breaches are expected control-flow outcomes, not
// exceptions: they transition state or skip an order, always with an audit
// entry written by the runner.
type RiskGovernor struct{}

// NewRiskGovernor returns a governor.
func NewRiskGovernor() *RiskGovernor { return &RiskGovernor{} }

// CheckVolatility measures the tick's realized volatility — the percentage
// price change from the previous tick — and reports whether it breaches
// the instance's threshold. Only meaningful when pauseOnHighVolatility is
// set; otherwise breach is always false.
func (g *RiskGovernor) CheckVolatility(mm *domain.MarketMaker, prevPrice, newPrice decimal.Decimal) (volatility decimal.Decimal, breach bool) {
	if prevPrice.IsZero() {
		return decimal.Zero, false
	}
	volatility = newPrice.Sub(prevPrice).Abs().Div(prevPrice).Mul(dHundred)
	if !mm.PauseOnHighVolatility {
		return volatility, false
	}
	return volatility, volatility.GreaterThan(mm.VolatilityThreshold)
}

// CheckOrderVolume reports whether dispatching an order of the given
// notional would push the instance past its daily volume cap. A zero cap
// disables the check. The offending order is skipped; the tick continues
// with the remaining bots.
func (g *RiskGovernor) CheckOrderVolume(mm *domain.MarketMaker, notional decimal.Decimal) error {
	if mm.MaxDailyVolume.IsZero() {
		return nil
	}
	if mm.CurrentDailyVolume.Add(notional).GreaterThan(mm.MaxDailyVolume) {
		return domain.ErrDailyVolumeExceeded
	}
	return nil
}
