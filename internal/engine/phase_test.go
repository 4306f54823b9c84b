package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/shopspring/decimal"
)

// TestPhaseCycleCanonical drives a neutral instance through four due
// transitions and expects the canonical accumulation cycle.
func TestPhaseCycleCanonical(t *testing.T) {
	mm := testMarketMaker()
	mm.CurrentPhase = domain.PhaseAccumulation
	pc := NewPhaseController(15 * time.Minute)
	rng := rand.New(rand.NewSource(3))

	want := []domain.Phase{
		domain.PhaseMarkup,
		domain.PhaseDistribution,
		domain.PhaseMarkdown,
		domain.PhaseAccumulation,
	}
	for i, next := range want {
		d := pc.MaybeTransition(mm, mm.NextPhaseChangeAt.Add(time.Second), rng)
		if d == nil {
			t.Fatalf("transition %d: expected a due transition", i)
		}
		if d.NewPhase != next || mm.CurrentPhase != next {
			t.Fatalf("transition %d: expected %s, got %s", i, next, d.NewPhase)
		}
		if d.PreviousPhase == d.NewPhase {
			t.Errorf("transition %d: previous phase not recorded", i)
		}
	}

	// Not due yet: no transition.
	if d := pc.MaybeTransition(mm, mm.PhaseStartedAt.Add(time.Second), rng); d != nil {
		t.Errorf("expected no transition before the dwell elapsed, got %s", d.NewPhase)
	}
}

// TestPhaseDurationBounds samples many dwell computations and checks the
// jitter and aggression scaling stay within the analytic envelope:
// base × [0.5, 1.5] × 5/(aggression+4).
func TestPhaseDurationBounds(t *testing.T) {
	mm := testMarketMaker()
	mm.AggressionLevel = dec("6")
	base := 20 * time.Minute
	pc := NewPhaseController(base)
	rng := rand.New(rand.NewSource(9))

	lo := time.Duration(float64(base) * 0.5 * 5.0 / 10.0)
	hi := time.Duration(float64(base) * 1.5 * 5.0 / 10.0)
	for i := 0; i < 500; i++ {
		got := pc.duration(mm, domain.PhaseMarkup, rng)
		if got < lo || got > hi {
			t.Fatalf("sample %d: duration %s outside [%s, %s]", i, got, lo, hi)
		}
	}
}

// TestBullishBiasSkipsMarkdown verifies that a fully bullish instance
// sometimes re-enters MARKUP from DISTRIBUTION instead of always falling
// through to MARKDOWN — and that both outcomes occur (the skip is
// probabilistic, not absolute).
func TestBullishBiasSkipsMarkdown(t *testing.T) {
	pc := NewPhaseController(15 * time.Minute)
	rng := rand.New(rand.NewSource(11))

	var skips, canonical int
	for i := 0; i < 400; i++ {
		mm := testMarketMaker()
		mm.CurrentPhase = domain.PhaseDistribution
		mm.MarketBias = domain.BiasBullish
		mm.BiasStrength = dec("100")

		switch pc.nextPhase(mm, rng) {
		case domain.PhaseMarkup:
			skips++
		case domain.PhaseMarkdown:
			canonical++
		default:
			t.Fatal("unexpected successor phase")
		}
	}
	if skips == 0 || canonical == 0 {
		t.Errorf("expected a mix of skipped and canonical transitions, got %d/%d", skips, canonical)
	}

	// Neutral never skips.
	for i := 0; i < 100; i++ {
		mm := testMarketMaker()
		mm.CurrentPhase = domain.PhaseDistribution
		if got := pc.nextPhase(mm, rng); got != domain.PhaseMarkdown {
			t.Fatalf("neutral instance must follow the canonical order, got %s", got)
		}
	}
}

// TestOpposedPhaseDwellShortened: a bullish instance hurries through
// bearish phases.
func TestOpposedPhaseDwellShortened(t *testing.T) {
	mm := testMarketMaker()
	mm.MarketBias = domain.BiasBullish
	mm.BiasStrength = dec("100")
	pc := NewPhaseController(15 * time.Minute)

	// Same draw for both phases via identical seeds.
	up := pc.duration(mm, domain.PhaseMarkup, rand.New(rand.NewSource(5)))
	down := pc.duration(mm, domain.PhaseMarkdown, rand.New(rand.NewSource(5)))
	if down >= up {
		t.Errorf("opposed phase should dwell shorter: markup %s, markdown %s", up, down)
	}
	// Strength 100 halves the opposed dwell.
	if want := up / 2; down != want {
		t.Errorf("expected opposed dwell %s, got %s", want, down)
	}
}

// TestPhaseTargetPlacement checks direction and range clamping of the
// computed phase targets.
func TestPhaseTargetPlacement(t *testing.T) {
	mm := testMarketMaker()
	mm.TargetPrice = decPtr("1.5")
	mm.PriceRangeLow = decPtr("1")
	mm.PriceRangeHigh = decPtr("2")
	pc := NewPhaseController(15 * time.Minute)

	for _, phase := range []domain.Phase{
		domain.PhaseAccumulation, domain.PhaseMarkup,
		domain.PhaseDistribution, domain.PhaseMarkdown,
	} {
		target := pc.targetPrice(mm, phase)
		if target == nil {
			t.Fatalf("%s: expected a phase target", phase)
		}
		if target.LessThan(*mm.PriceRangeLow) || target.GreaterThan(*mm.PriceRangeHigh) {
			t.Errorf("%s: target %s escapes the configured range", phase, target)
		}
		if phase.Bullish() && target.LessThan(*mm.TargetPrice) {
			t.Errorf("%s: bullish phase target %s below the anchor", phase, target)
		}
		if !phase.Bullish() && target.GreaterThan(*mm.TargetPrice) {
			t.Errorf("%s: bearish phase target %s above the anchor", phase, target)
		}
	}

	// No anchor at all: nil target.
	bare := testMarketMaker()
	bare.LastKnownPrice = decimal.Zero
	if pc.targetPrice(bare, domain.PhaseMarkup) != nil {
		t.Error("expected nil target without any price anchor")
	}
}
