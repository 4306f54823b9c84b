package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/shopspring/decimal"
)

// TickPrice is the synthesizer's output for one tick.
type TickPrice struct {
	Price     decimal.Decimal // authoritative mid price, clamped to range
	Unclamped decimal.Decimal // pre-clamp value, for deviation reporting
	Clamped   bool            // true when range bounds moved the price
	Degraded  bool            // true when the external feed was unavailable

	PhaseChange   *domain.PhaseChangeDetails   // non-nil when a transition happened
	MomentumEvent *domain.MomentumEventDetails // non-nil on a large shock
}

// ClampDeviationPct returns the percentage distance between the clamped and
// unclamped price, used to decide whether clamping deserves an audit entry.
func (t TickPrice) ClampDeviationPct() decimal.Decimal {
	if !t.Clamped || t.Price.IsZero() {
		return decimal.Zero
	}
	return t.Unclamped.Sub(t.Price).Abs().Div(t.Price).Mul(dHundred)
}

// Synthesizer composes the phase controller, momentum model and external
// correlation into one authoritative mid price per tick. It mutates the
// MarketMaker's running state (phase fields, momentum, last known price)
// in place; the caller commits.
type Synthesizer struct {
	phases     *PhaseController
	momentum   *MomentumModel
	correlator *Correlator
}

// NewSynthesizer wires the three price-process components together.
func NewSynthesizer(phases *PhaseController, momentum *MomentumModel, correlator *Correlator) *Synthesizer {
	return &Synthesizer{phases: phases, momentum: momentum, correlator: correlator}
}

// Tick advances the price process one step. Order matters: momentum first
// (phase transitions see fresh momentum), then the phase machine, then the
// external blend, then the range clamp.
func (s *Synthesizer) Tick(ctx context.Context, mm *domain.MarketMaker, rng *rand.Rand, now time.Time) TickPrice {
	var out TickPrice

	out.MomentumEvent = s.momentum.Advance(mm, rng, now)
	out.PhaseChange = s.phases.MaybeTransition(mm, now, rng)

	autonomous := mm.LastKnownPrice.Add(s.momentum.Delta(mm, mm.LastKnownPrice))
	if autonomous.IsNegative() {
		autonomous = decimal.Zero
	}

	price, degraded := s.correlator.Blend(ctx, mm, autonomous)
	out.Degraded = degraded
	out.Unclamped = price

	out.Price, out.Clamped = mm.ClampToRange(price)
	mm.LastKnownPrice = out.Price
	return out
}
