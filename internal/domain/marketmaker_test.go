package domain_test

import (
	"testing"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// validMarketMaker builds a fully valid instance used as the base of the
// validation table tests.
func validMarketMaker() *domain.MarketMaker {
	low := decimal.NewFromFloat(1.0)
	high := decimal.NewFromFloat(2.0)
	target := decimal.NewFromFloat(1.5)
	sym := "BTCUSDT"
	return &domain.MarketMaker{
		ID:                   uuid.New(),
		MarketRef:            "AIX/USDT",
		Status:               domain.MMStatusActive,
		TargetPrice:          &target,
		PriceRangeLow:        &low,
		PriceRangeHigh:       &high,
		AggressionLevel:      decimal.NewFromInt(5),
		MaxDailyVolume:       decimal.NewFromInt(100000),
		VolatilityThreshold:  decimal.NewFromFloat(5.0),
		RealLiquidityPercent: decimal.NewFromInt(20),
		PriceMode:            domain.PriceModeHybrid,
		ExternalSymbol:       &sym,
		CorrelationStrength:  decimal.NewFromInt(50),
		MarketBias:           domain.BiasNeutral,
		BiasStrength:         decimal.NewFromInt(0),
		CurrentPhase:         domain.PhaseAccumulation,
		PhaseStartedAt:       time.Now().UTC(),
		NextPhaseChangeAt:    time.Now().UTC().Add(15 * time.Minute),
		BaseVolatility:       decimal.NewFromFloat(2.0),
		VolatilityMultiplier: decimal.NewFromFloat(1.0),
		MomentumDecay:        decimal.NewFromFloat(0.95),
		LastKnownPrice:       decimal.NewFromFloat(1.5),
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	mm := validMarketMaker()
	if err := mm.ValidateConfig(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	// Idempotency: re-validating the unchanged config never raises.
	if err := mm.ValidateConfig(); err != nil {
		t.Fatalf("re-validation of unchanged config raised: %v", err)
	}
}

func TestValidateConfig_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.MarketMaker)
	}{
		{"range inverted", func(m *domain.MarketMaker) {
			low := decimal.NewFromFloat(2.0)
			high := decimal.NewFromFloat(1.0)
			m.PriceRangeLow, m.PriceRangeHigh = &low, &high
		}},
		{"range equal", func(m *domain.MarketMaker) {
			v := decimal.NewFromFloat(1.5)
			m.PriceRangeLow, m.PriceRangeHigh = &v, &v
		}},
		{"target outside range", func(m *domain.MarketMaker) {
			target := decimal.NewFromFloat(9.9)
			m.TargetPrice = &target
		}},
		{"real liquidity above 100", func(m *domain.MarketMaker) {
			m.RealLiquidityPercent = decimal.NewFromInt(101)
		}},
		{"real liquidity negative", func(m *domain.MarketMaker) {
			m.RealLiquidityPercent = decimal.NewFromInt(-1)
		}},
		{"volatility multiplier too high", func(m *domain.MarketMaker) {
			m.VolatilityMultiplier = decimal.NewFromFloat(2.5)
		}},
		{"volatility multiplier too low", func(m *domain.MarketMaker) {
			m.VolatilityMultiplier = decimal.NewFromFloat(0.4)
		}},
		{"momentum decay out of band", func(m *domain.MarketMaker) {
			m.MomentumDecay = decimal.NewFromFloat(0.5)
		}},
		{"external mode without symbol", func(m *domain.MarketMaker) {
			m.PriceMode = domain.PriceModeFollowExternal
			m.ExternalSymbol = nil
		}},
		{"unknown bias", func(m *domain.MarketMaker) {
			m.MarketBias = domain.Bias("SIDEWAYS")
		}},
		{"momentum outside band", func(m *domain.MarketMaker) {
			m.TrendMomentum = decimal.NewFromFloat(1.2)
		}},
		{"empty market ref", func(m *domain.MarketMaker) {
			m.MarketRef = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mm := validMarketMaker()
			tc.mutate(mm)
			err := mm.ValidateConfig()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !domain.IsValidation(err) {
				t.Errorf("expected a validation error, got: %v", err)
			}
		})
	}
}

func TestClampToRange(t *testing.T) {
	mm := validMarketMaker()

	price, moved := mm.ClampToRange(decimal.NewFromFloat(2.7))
	if !price.Equal(decimal.NewFromFloat(2.0)) {
		t.Errorf("clamp high = %s, want 2.0", price)
	}
	if !moved {
		t.Error("expected moved=true when clamping above range")
	}

	price, moved = mm.ClampToRange(decimal.NewFromFloat(0.3))
	if !price.Equal(decimal.NewFromFloat(1.0)) {
		t.Errorf("clamp low = %s, want 1.0", price)
	}
	if !moved {
		t.Error("expected moved=true when clamping below range")
	}

	price, moved = mm.ClampToRange(decimal.NewFromFloat(1.5))
	if moved {
		t.Error("in-range price should not be moved")
	}
	if !price.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("in-range price changed to %s", price)
	}
}

func TestPhaseNext_Cycle(t *testing.T) {
	order := []domain.Phase{
		domain.PhaseAccumulation,
		domain.PhaseMarkup,
		domain.PhaseDistribution,
		domain.PhaseMarkdown,
	}
	for i, p := range order {
		want := order[(i+1)%len(order)]
		if got := p.Next(); got != want {
			t.Errorf("%s.Next() = %s, want %s", p, got, want)
		}
	}
}

func TestBotValidateConfig(t *testing.T) {
	valid := domain.Bot{
		ID:                uuid.New(),
		MarketMakerID:     uuid.New(),
		Name:              "scalper-1",
		Personality:       domain.PersonalityScalper,
		RiskTolerance:     decimal.NewFromFloat(0.5),
		TradeFrequency:    domain.FrequencyHigh,
		AvgOrderSize:      decimal.NewFromInt(100),
		OrderSizeVariance: decimal.NewFromFloat(0.2),
		PreferredSpread:   decimal.NewFromFloat(0.002),
		Status:            domain.BotStatusActive,
		MaxDailyTrades:    200,
	}
	if err := valid.ValidateConfig(); err != nil {
		t.Fatalf("valid bot rejected: %v", err)
	}

	b := valid
	b.RiskTolerance = decimal.NewFromFloat(0.05)
	if err := b.ValidateConfig(); err == nil {
		t.Error("risk_tolerance below 0.1 should be rejected")
	}

	b = valid
	b.OrderSizeVariance = decimal.NewFromFloat(0.6)
	if err := b.ValidateConfig(); err == nil {
		t.Error("order_size_variance above 0.5 should be rejected")
	}

	b = valid
	b.PreferredSpread = decimal.NewFromFloat(0.2)
	if err := b.ValidateConfig(); err == nil {
		t.Error("preferred_spread above 0.1 should be rejected")
	}

	b = valid
	b.MaxDailyTrades = 0
	if err := b.ValidateConfig(); err == nil {
		t.Error("zero max_daily_trades should be rejected")
	}
}
