package engine

import (
	"math/rand"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Phase controller
// ──────────────────────────────────────────────────────────────────────────────

// phase target placement factors relative to the configured target price:
// upward phases aim above it, downward phases below, scaled by the distance
// to the respective range bound.
var (
	accumulationReach = decimal.NewFromFloat(0.2)
	markupReach       = decimal.NewFromFloat(0.6)
	distributionReach = decimal.NewFromFloat(0.2)
	markdownReach     = decimal.NewFromFloat(0.6)

	// fallbackSpan is used when no price range is configured: the phase
	// target is placed this fraction of the anchor away from it.
	fallbackSpan = decimal.NewFromFloat(0.05)
)

// PhaseController owns phase timing and phase target prices for the
// four-state regime machine. It never touches persistence; the runner
// commits the mutated MarketMaker.
type PhaseController struct {
	BaseDuration time.Duration // scaled per instance by aggression and bias
}

// NewPhaseController builds a controller with the given base dwell duration.
func NewPhaseController(base time.Duration) *PhaseController {
	return &PhaseController{BaseDuration: base}
}

// MaybeTransition performs a phase transition when the current phase's dwell
// time has elapsed. It mutates mm in place and returns the transition
// details, or nil when no transition was due. The machine cycles
// indefinitely while the instance is ACTIVE; callers must not invoke it for
// PAUSED or STOPPED instances.
func (pc *PhaseController) MaybeTransition(mm *domain.MarketMaker, now time.Time, rng *rand.Rand) *domain.PhaseChangeDetails {
	if now.Before(mm.NextPhaseChangeAt) {
		return nil
	}
	prev := mm.CurrentPhase
	next := pc.nextPhase(mm, rng)
	d := pc.Enter(mm, next, now, rng)
	d.PreviousPhase = prev
	return d
}

// Enter moves mm into phase, computing dwell timing and the phase target
// price. Used both by MaybeTransition and when seeding a freshly started
// instance.
func (pc *PhaseController) Enter(mm *domain.MarketMaker, phase domain.Phase, now time.Time, rng *rand.Rand) *domain.PhaseChangeDetails {
	duration := pc.duration(mm, phase, rng)
	target := pc.targetPrice(mm, phase)

	mm.CurrentPhase = phase
	mm.PhaseStartedAt = now
	mm.NextPhaseChangeAt = now.Add(duration)
	mm.PhaseTargetPrice = target

	return &domain.PhaseChangeDetails{
		PreviousPhase:    phase, // overwritten by MaybeTransition
		NewPhase:         phase,
		ExpectedDuration: duration,
		PhaseTargetPrice: target,
	}
}

// nextPhase picks the successor phase. The canonical order is
// ACCUMULATION → MARKUP → DISTRIBUTION → MARKDOWN → …, but a strong bias
// raises the probability of skipping toward the biased direction: BULLISH
// can re-enter MARKUP from DISTRIBUTION instead of falling through to
// MARKDOWN, BEARISH can cut ACCUMULATION short into MARKDOWN.
func (pc *PhaseController) nextPhase(mm *domain.MarketMaker, rng *rand.Rand) domain.Phase {
	canonical := mm.CurrentPhase.Next()
	if mm.MarketBias == domain.BiasNeutral || mm.BiasStrength.IsZero() {
		return canonical
	}

	skipProb := mm.BiasStrength.InexactFloat64() / 200 // strength 100 → 50 %
	if rng.Float64() >= skipProb {
		return canonical
	}

	switch mm.MarketBias {
	case domain.BiasBullish:
		if mm.CurrentPhase == domain.PhaseDistribution || mm.CurrentPhase == domain.PhaseMarkdown {
			return domain.PhaseMarkup
		}
	case domain.BiasBearish:
		if mm.CurrentPhase == domain.PhaseAccumulation || mm.CurrentPhase == domain.PhaseMarkup {
			return domain.PhaseMarkdown
		}
	}
	return canonical
}

// duration computes the dwell time for a phase: the base duration jittered
// ±50 %, shortened by higher aggression, and shortened further when the
// phase opposes the configured bias (the machine hurries through regimes
// the admin is leaning against).
func (pc *PhaseController) duration(mm *domain.MarketMaker, phase domain.Phase, rng *rand.Rand) time.Duration {
	d := float64(pc.BaseDuration) * (0.5 + rng.Float64()) // ±50 % jitter

	if agg := mm.AggressionLevel.InexactFloat64(); agg > 0 {
		d *= 5.0 / (agg + 4.0) // aggression 1 → ×1, aggression 10 → ×0.36
	}

	opposed := (mm.MarketBias == domain.BiasBullish && !phase.Bullish()) ||
		(mm.MarketBias == domain.BiasBearish && phase.Bullish())
	if opposed {
		d *= 1 - mm.BiasStrength.InexactFloat64()/200
	}

	return time.Duration(d)
}

// targetPrice places the phase target relative to the configured target and
// price range: MARKUP/ACCUMULATION bias upward, DISTRIBUTION/MARKDOWN bias
// downward, scaled by biasStrength. Returns nil when no anchor is
// configured at all.
func (pc *PhaseController) targetPrice(mm *domain.MarketMaker, phase domain.Phase) *decimal.Decimal {
	var anchor decimal.Decimal
	switch {
	case mm.TargetPrice != nil:
		anchor = *mm.TargetPrice
	case !mm.LastKnownPrice.IsZero():
		anchor = mm.LastKnownPrice
	default:
		return nil
	}

	// Reach above/below the anchor, bounded by the configured range when set.
	var span decimal.Decimal
	if phase.Bullish() {
		if mm.PriceRangeHigh != nil {
			span = mm.PriceRangeHigh.Sub(anchor)
		} else {
			span = anchor.Mul(fallbackSpan)
		}
	} else {
		if mm.PriceRangeLow != nil {
			span = anchor.Sub(*mm.PriceRangeLow)
		} else {
			span = anchor.Mul(fallbackSpan)
		}
	}
	if span.IsNegative() {
		span = decimal.Zero
	}

	var reach decimal.Decimal
	switch phase {
	case domain.PhaseAccumulation:
		reach = accumulationReach
	case domain.PhaseMarkup:
		reach = markupReach
	case domain.PhaseDistribution:
		reach = distributionReach
	default:
		reach = markdownReach
	}

	// Bias stretches the reach in its own direction, up to ×1.5 at strength 100.
	aligned := (mm.MarketBias == domain.BiasBullish && phase.Bullish()) ||
		(mm.MarketBias == domain.BiasBearish && !phase.Bullish())
	if aligned && !mm.BiasStrength.IsZero() {
		stretch := one.Add(mm.BiasStrength.Div(dHundred).Div(decimal.NewFromInt(2)))
		reach = reach.Mul(stretch)
	}

	offset := span.Mul(reach)
	var target decimal.Decimal
	if phase.Bullish() {
		target = anchor.Add(offset)
	} else {
		target = anchor.Sub(offset)
	}

	clamped, _ := mm.ClampToRange(target)
	return &clamped
}

var one = decimal.NewFromInt(1)
