package engine

import (
	"context"
	"log/slog"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/shopspring/decimal"
)

// Correlator blends the external reference price into the autonomous price.
// Active only in FOLLOW_EXTERNAL and HYBRID modes; AUTONOMOUS instances
// never touch the feed.
type Correlator struct {
	feed   PriceFeed
	logger *slog.Logger
}

// NewCorrelator builds a Correlator over the given feed.
func NewCorrelator(feed PriceFeed, logger *slog.Logger) *Correlator {
	return &Correlator{feed: feed, logger: logger}
}

// Blend returns the mode-adjusted price for the tick and whether the feed
// was degraded. The autonomous model always runs first so its momentum
// state stays warm; FOLLOW_EXTERNAL simply discards its price output.
//
// Feed unavailability falls back to the autonomous price and reports
// degraded=true — never a silent zero.
func (c *Correlator) Blend(ctx context.Context, mm *domain.MarketMaker, autonomous decimal.Decimal) (price decimal.Decimal, degraded bool) {
	if !mm.PriceMode.UsesExternal() || mm.ExternalSymbol == nil {
		return autonomous, false
	}

	external, err := c.feed.LatestPrice(ctx, *mm.ExternalSymbol)
	if err != nil || external.IsZero() {
		c.logger.Warn("external feed degraded, using autonomous price",
			"market_ref", mm.MarketRef, "symbol", *mm.ExternalSymbol, "err", err)
		return autonomous, true
	}

	switch mm.PriceMode {
	case domain.PriceModeFollowExternal:
		return external, false
	case domain.PriceModeHybrid:
		w := mm.CorrelationStrength.Div(dHundred)
		blended := external.Mul(w).Add(autonomous.Mul(one.Sub(w)))
		return blended, false
	}
	return autonomous, false
}
