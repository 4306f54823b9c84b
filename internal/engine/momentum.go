package engine

import (
	"math/rand"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Volatility/Momentum model
// ──────────────────────────────────────────────────────────────────────────────

var (
	negOne   = decimal.NewFromInt(-1)
	posOne   = decimal.NewFromInt(1)
	dHundred = decimal.NewFromInt(100)

	// pullCoefficient scales the pull term toward the phase target price,
	// preventing unbounded drift of the autonomous process.
	pullCoefficient = decimal.NewFromFloat(0.05)
)

// MomentumModel advances the decaying trend momentum and derives the per-tick
// autonomous price delta.
//
// The shock distribution is a uniform draw u ∈ [-1, 1] scaled by
// baseVolatility × volatilityMultiplier / 100; uniform keeps replays with a
// fixed seed exactly reproducible. Momentum events are classified on the
// draw magnitude |u| against cutoffs deep in the tail, so entries stay
// rare events rather than per-tick noise; the recorded magnitude is the
// scaled shock as a percentage, not the raw draw.
type MomentumModel struct {
	EventCutoff   float64 // |u| above this is a SURGE/DUMP
	ExtremeCutoff float64 // |u| above this is a SPIKE/FLASH_CRASH
}

// NewMomentumModel builds a model with the given event cutoffs.
func NewMomentumModel(eventCutoff, extremeCutoff float64) *MomentumModel {
	return &MomentumModel{EventCutoff: eventCutoff, ExtremeCutoff: extremeCutoff}
}

// Advance updates mm.TrendMomentum in place:
//
//	momentum_t = clamp(momentum_{t-1} × momentumDecay + shock, -1, 1)
//
// and returns the momentum-event details when the raw draw exceeds the
// cutoff, else nil. LastMomentumUpdate is stamped with now.
func (m *MomentumModel) Advance(mm *domain.MarketMaker, rng *rand.Rand, now time.Time) *domain.MomentumEventDetails {
	u := rng.Float64()*2 - 1 // uniform in [-1, 1]

	scale := mm.BaseVolatility.Mul(mm.VolatilityMultiplier).Div(dHundred)
	shock := decimal.NewFromFloat(u).Mul(scale)

	// Admin bias skews the shock sign: a fraction of the draw is replaced by
	// pure directional drift proportional to bias strength.
	if mm.MarketBias != domain.BiasNeutral && !mm.BiasStrength.IsZero() {
		drift := mm.MarketBias.Sign().Mul(mm.BiasStrength).Div(dHundred).Mul(scale)
		shock = shock.Add(drift)
	}

	next := mm.TrendMomentum.Mul(mm.MomentumDecay).Add(shock)
	mm.TrendMomentum = clampDecimal(next, negOne, posOne)
	mm.LastMomentumUpdate = now

	return m.classify(u, shock)
}

// Delta computes the autonomous price delta for the tick:
//
//	price × momentum × (baseVolatility/100) × volatilityMultiplier
//	+ (phaseTarget - price) × pullCoefficient
//
// The pull term is proportional to the distance from the phase target.
func (m *MomentumModel) Delta(mm *domain.MarketMaker, price decimal.Decimal) decimal.Decimal {
	drift := price.
		Mul(mm.TrendMomentum).
		Mul(mm.BaseVolatility.Div(dHundred)).
		Mul(mm.VolatilityMultiplier)

	pull := mm.EffectiveTarget().Sub(price).Mul(pullCoefficient)
	return drift.Add(pull)
}

// classify maps a raw shock draw to a momentum event, or nil when the draw
// is below the cutoff. The event carries the applied shock (bias drift
// included) in percent so the audit trail records the realized move, not
// the draw.
func (m *MomentumModel) classify(u float64, shock decimal.Decimal) *domain.MomentumEventDetails {
	mag := u
	if mag < 0 {
		mag = -mag
	}
	if mag <= m.EventCutoff {
		return nil
	}

	var kind domain.MomentumEventKind
	switch {
	case mag > m.ExtremeCutoff && u > 0:
		kind = domain.MomentumSpike
	case mag > m.ExtremeCutoff:
		kind = domain.MomentumFlashCrash
	case u > 0:
		kind = domain.MomentumSurge
	default:
		kind = domain.MomentumDump
	}

	// Expected duration scales with the shock magnitude.
	duration := time.Duration(mag * float64(2*time.Minute))

	return &domain.MomentumEventDetails{
		Kind:          kind,
		Magnitude:     shock.Abs().Mul(dHundred).Round(4),
		EventDuration: duration,
	}
}

// clampDecimal bounds v to [lo, hi].
func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
