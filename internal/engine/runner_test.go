package engine

import (
	"context"
	"testing"

	"github.com/evetabi/marketmaker/internal/domain"
)

// TestTickKeepsPriceInRange runs a fully simulated instance with a tight
// price range for many ticks: the price never escapes [1, 2], every fill
// is simulated, and no real-performance counter moves.
func TestTickKeepsPriceInRange(t *testing.T) {
	mm := testMarketMaker()
	mm.PriceRangeLow = decPtr("1")
	mm.PriceRangeHigh = decPtr("2")
	mm.TargetPrice = decPtr("1.5")
	mm.VolatilityThreshold = dec("50") // range clamp is under test, not the pause
	mm.BaseVolatility = dec("5")

	pool := testPool(mm.ID)
	bots := []*domain.Bot{testBot(mm.ID), testBot(mm.ID)}
	bots[1].Personality = domain.PersonalityMarketMaker

	store := newMemStore(mm, pool, bots...)
	book := &stubBook{errs: []error{errBookUnavailable}}
	r := newTestRunner(store, &stubFeed{err: domain.ErrFeedUnavailable}, book, mm)

	for i := 0; i < 300; i++ {
		stopped, err := r.tick(context.Background())
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if stopped {
			t.Fatalf("tick %d: unexpected stop", i)
		}
		if mm.LastKnownPrice.LessThan(dec("1")) || mm.LastKnownPrice.GreaterThan(dec("2")) {
			t.Fatalf("tick %d: price %s escaped the range", i, mm.LastKnownPrice)
		}
		if pool.BaseCurrencyBalance.IsNegative() || pool.QuoteCurrencyBalance.IsNegative() {
			t.Fatalf("tick %d: pool balance went negative", i)
		}
	}

	trades := store.entriesByAction(domain.ActionTrade)
	if len(trades) == 0 {
		t.Fatal("expected simulated trades over 300 ticks")
	}
	for _, e := range trades {
		d, err := domain.DecodeDetails(e.EntryAction, e.RawDetails)
		if err != nil {
			t.Fatalf("decode trade details: %v", err)
		}
		if d.(*domain.TradeDetails).Real {
			t.Fatal("zero real liquidity recorded a real trade")
		}
	}
	for _, b := range bots {
		if b.RealTradesExecuted != 0 || !b.TotalVolume.IsZero() {
			t.Errorf("bot %s: real counters moved on simulated flow", b.Name)
		}
	}
	if book.calls != 0 {
		t.Errorf("order book reached %d times", book.calls)
	}
}

// TestTickAutoPausesOnVolatility: a violent price move past the threshold
// pauses the instance mid-tick, records exactly one AUTO_PAUSE entry, and
// freezes all further ticks until an operator resumes it.
func TestTickAutoPausesOnVolatility(t *testing.T) {
	mm := testMarketMaker()
	mm.LastKnownPrice = dec("100")
	mm.TrendMomentum = dec("1")
	mm.MomentumDecay = dec("0.999")
	mm.BaseVolatility = dec("30")
	mm.VolatilityMultiplier = dec("2")
	mm.VolatilityThreshold = dec("10")

	pool := testPool(mm.ID)
	bot := testBot(mm.ID)
	store := newMemStore(mm, pool, bot)
	r := newTestRunner(store, &stubFeed{err: domain.ErrFeedUnavailable}, &stubBook{errs: []error{nil}, results: []OrderResult{{}}}, mm)

	if _, err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if mm.Status != domain.MMStatusPaused {
		t.Fatalf("expected PAUSED, got %s", mm.Status)
	}
	pauses := store.entriesByAction(domain.ActionAutoPause)
	if len(pauses) != 1 {
		t.Fatalf("expected exactly one AUTO_PAUSE entry, got %d", len(pauses))
	}
	d, err := domain.DecodeDetails(domain.ActionAutoPause, pauses[0].RawDetails)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	pause := d.(*domain.AutoPauseDetails)
	if !pause.Volatility.GreaterThan(pause.Threshold) {
		t.Errorf("recorded volatility %s must exceed threshold %s", pause.Volatility, pause.Threshold)
	}
	// The aborted tick must not have traded.
	if got := store.entriesByAction(domain.ActionTrade); len(got) != 0 {
		t.Errorf("auto-paused tick recorded %d trades", len(got))
	}

	// Paused instances are frozen: further ticks change nothing.
	momentum := mm.TrendMomentum
	price := mm.LastKnownPrice
	if _, err := r.tick(context.Background()); err != nil {
		t.Fatalf("paused tick: %v", err)
	}
	if !mm.TrendMomentum.Equal(momentum) || !mm.LastKnownPrice.Equal(price) {
		t.Error("paused instance state advanced")
	}
}

// TestTickRespectsDailyTradeCap: a capped bot stops producing orders and
// flips to COOLDOWN; attempts, not fills, consume the budget.
func TestTickRespectsDailyTradeCap(t *testing.T) {
	mm := testMarketMaker()
	mm.VolatilityThreshold = dec("100")
	bot := testBot(mm.ID)
	bot.MaxDailyTrades = 3
	bot.RiskTolerance = dec("1") // trade probability 0.8

	pool := testPool(mm.ID)
	store := newMemStore(mm, pool, bot)
	r := newTestRunner(store, &stubFeed{err: domain.ErrFeedUnavailable}, &stubBook{errs: []error{nil}, results: []OrderResult{{}}}, mm)

	for i := 0; i < 60; i++ {
		if _, err := r.tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if bot.DailyTradeCount != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", bot.DailyTradeCount)
	}
	if bot.Status != domain.BotStatusCooldown {
		t.Errorf("expected COOLDOWN, got %s", bot.Status)
	}
	if trades := store.entriesByAction(domain.ActionTrade); len(trades) > 3 {
		t.Errorf("capped bot produced %d trades", len(trades))
	}
}

// TestTickHybridFullCorrelation: at correlation strength 100 a HYBRID
// instance tracks the external feed exactly.
func TestTickHybridFullCorrelation(t *testing.T) {
	sym := "BTCUSDT"
	mm := testMarketMaker()
	mm.PriceMode = domain.PriceModeHybrid
	mm.ExternalSymbol = &sym
	mm.CorrelationStrength = dec("100")
	mm.VolatilityThreshold = dec("10000") // external jumps are not under test

	pool := testPool(mm.ID)
	store := newMemStore(mm, pool) // no bots; the price path is under test
	feed := &stubFeed{price: dec("42")}
	r := newTestRunner(store, feed, &stubBook{errs: []error{nil}, results: []OrderResult{{}}}, mm)

	if _, err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !mm.LastKnownPrice.Equal(dec("42")) {
		t.Errorf("full correlation must track the feed price, got %s", mm.LastKnownPrice)
	}
	if feed.calls == 0 {
		t.Error("feed never consulted")
	}
}

// TestTickDegradedFeedFallsBack: when the feed is down, a FOLLOW_EXTERNAL
// instance keeps ticking on the autonomous model instead of stalling.
func TestTickDegradedFeedFallsBack(t *testing.T) {
	sym := "BTCUSDT"
	mm := testMarketMaker()
	mm.PriceMode = domain.PriceModeFollowExternal
	mm.ExternalSymbol = &sym
	mm.VolatilityThreshold = dec("10000")

	pool := testPool(mm.ID)
	store := newMemStore(mm, pool)
	r := newTestRunner(store, &stubFeed{err: domain.ErrFeedUnavailable}, &stubBook{errs: []error{nil}, results: []OrderResult{{}}}, mm)

	if _, err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if mm.LastKnownPrice.IsZero() {
		t.Error("degraded feed must not zero the price")
	}
	if store.commits != 1 {
		t.Errorf("expected the tick to commit, got %d commits", store.commits)
	}
}

// TestTickObservesStop: a STOPPED instance ends the loop at the next tick
// boundary; PAUSED freezes without ending it.
func TestTickObservesStop(t *testing.T) {
	mm := testMarketMaker()
	pool := testPool(mm.ID)
	store := newMemStore(mm, pool)
	r := newTestRunner(store, &stubFeed{err: domain.ErrFeedUnavailable}, &stubBook{errs: []error{nil}, results: []OrderResult{{}}}, mm)

	mm.Status = domain.MMStatusPaused
	stopped, err := r.tick(context.Background())
	if err != nil || stopped {
		t.Fatalf("paused: stopped=%v err=%v", stopped, err)
	}
	if store.commits != 0 {
		t.Errorf("paused tick committed")
	}

	mm.Status = domain.MMStatusStopped
	stopped, err = r.tick(context.Background())
	if err != nil {
		t.Fatalf("stopped: %v", err)
	}
	if !stopped {
		t.Error("runner must exit on STOPPED")
	}
}

// TestTickDailyVolumeCapSkipsOrders: orders past the cap are skipped, the
// tick keeps going, and no volume accrues from skipped orders.
func TestTickDailyVolumeCapSkipsOrders(t *testing.T) {
	mm := testMarketMaker()
	mm.VolatilityThreshold = dec("100")
	mm.MaxDailyVolume = dec("0.0001") // everything exceeds the cap
	bot := testBot(mm.ID)
	bot.RiskTolerance = dec("1")

	pool := testPool(mm.ID)
	store := newMemStore(mm, pool, bot)
	r := newTestRunner(store, &stubFeed{err: domain.ErrFeedUnavailable}, &stubBook{errs: []error{nil}, results: []OrderResult{{}}}, mm)

	for i := 0; i < 20; i++ {
		if _, err := r.tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if trades := store.entriesByAction(domain.ActionTrade); len(trades) != 0 {
		t.Errorf("capped instance recorded %d trades", len(trades))
	}
	if !mm.CurrentDailyVolume.IsZero() {
		t.Errorf("skipped orders accrued volume: %s", mm.CurrentDailyVolume)
	}
	if !pool.BaseCurrencyBalance.Equal(dec("100000")) {
		t.Errorf("skipped orders moved the pool: %s", pool.BaseCurrencyBalance)
	}
}

// TestStopStatusWriteSurvivesConcurrentTick: an emergency stop writes
// STOPPED under the instance lock while a tick is mid-flight. Commits write
// the full market maker row, so a status write outside the lock could land
// between the tick's load and its commit and be silently resurrected to
// ACTIVE. The lock must order the write after the commit.
func TestStopStatusWriteSurvivesConcurrentTick(t *testing.T) {
	for round := 0; round < 25; round++ {
		mm := testMarketMaker()
		store := &rowStore{memStore: newMemStore(mm, testPool(mm.ID))}
		r := newTestRunner(store, &stubFeed{price: dec("1.5")}, &stubBook{errs: []error{nil}, results: []OrderResult{{}}}, mm)

		tickDone := make(chan struct{})
		go func() {
			defer close(tickDone)
			if _, err := r.tick(context.Background()); err != nil {
				t.Errorf("round %d: tick: %v", round, err)
			}
		}()

		r.lock.Lock()
		store.setStatus(domain.MMStatusStopped)
		r.lock.Unlock()
		<-tickDone

		if got := store.status(); got != domain.MMStatusStopped {
			t.Fatalf("round %d: persisted status %s after stop, want STOPPED", round, got)
		}

		// The next tick must observe the stop and end the loop.
		stopped, err := r.tick(context.Background())
		if err != nil {
			t.Fatalf("round %d: follow-up tick: %v", round, err)
		}
		if !stopped {
			t.Fatalf("round %d: runner did not observe STOPPED", round)
		}
	}
}

var errBookUnavailable = &RejectionError{Reason: "unavailable"}
