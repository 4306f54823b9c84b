package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
)

func realFill(bot *domain.Bot, side domain.OrderSide, price, amount string) *domain.Fill {
	return &domain.Fill{
		Order: domain.Order{
			BotID:  bot.ID,
			Side:   side,
			Price:  dec(price),
			Amount: dec(amount),
		},
		Price:  dec(price),
		Amount: dec(amount),
		Real:   true,
	}
}

func simFill(bot *domain.Bot, side domain.OrderSide, price, amount string) *domain.Fill {
	f := realFill(bot, side, price, amount)
	f.Real = false
	return f
}

// TestLedgerWeightedAverageEntry: two same-direction adds re-weight the
// average entry price; nothing is realized.
func TestLedgerWeightedAverageEntry(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	bot := testBot(pool.MarketMakerID)

	for _, f := range []*domain.Fill{
		realFill(bot, domain.SideBuy, "100", "1"),
		realFill(bot, domain.SideBuy, "110", "1"),
	} {
		realized, err := l.Apply(pool, bot, f)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !realized.IsZero() {
			t.Errorf("same-direction add realized %s", realized)
		}
	}

	if !bot.CurrentPosition.Equal(dec("2")) {
		t.Errorf("expected position 2, got %s", bot.CurrentPosition)
	}
	if !bot.AvgEntryPrice.Equal(dec("105")) {
		t.Errorf("expected avg entry 105, got %s", bot.AvgEntryPrice)
	}
	if bot.RealTradesExecuted != 2 {
		t.Errorf("expected 2 real trades, got %d", bot.RealTradesExecuted)
	}
}

// TestLedgerRealizesOnClose: a direction-reducing fill realizes
// (price − avgEntry) × closed quantity into the bot and the pool.
func TestLedgerRealizesOnClose(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	bot := testBot(pool.MarketMakerID)

	mustApply(t, l, pool, bot, realFill(bot, domain.SideBuy, "100", "2"))
	realized, err := l.Apply(pool, bot, realFill(bot, domain.SideSell, "110", "1"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !realized.Equal(dec("10")) {
		t.Errorf("expected realized 10, got %s", realized)
	}
	if !bot.TotalRealizedPnL.Equal(dec("10")) {
		t.Errorf("bot realized P&L: expected 10, got %s", bot.TotalRealizedPnL)
	}
	if !pool.RealizedPnL.Equal(dec("10")) {
		t.Errorf("pool realized P&L: expected 10, got %s", pool.RealizedPnL)
	}
	if bot.ProfitableTrades != 1 {
		t.Errorf("expected 1 profitable trade, got %d", bot.ProfitableTrades)
	}
	if !bot.CurrentPosition.Equal(dec("1")) {
		t.Errorf("expected remaining position 1, got %s", bot.CurrentPosition)
	}
	// Partial close keeps the entry price.
	if !bot.AvgEntryPrice.Equal(dec("100")) {
		t.Errorf("partial close must keep avg entry 100, got %s", bot.AvgEntryPrice)
	}
}

// TestLedgerCrossThroughZero: a fill larger than the open position realizes
// the whole old position and opens the remainder at the fill price.
func TestLedgerCrossThroughZero(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	bot := testBot(pool.MarketMakerID)

	mustApply(t, l, pool, bot, realFill(bot, domain.SideBuy, "100", "1"))
	realized, err := l.Apply(pool, bot, realFill(bot, domain.SideSell, "110", "3"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !realized.Equal(dec("10")) {
		t.Errorf("expected realized 10 on the closed unit, got %s", realized)
	}
	if !bot.CurrentPosition.Equal(dec("-2")) {
		t.Errorf("expected short position -2, got %s", bot.CurrentPosition)
	}
	if !bot.AvgEntryPrice.Equal(dec("110")) {
		t.Errorf("remainder must open at the fill price, got %s", bot.AvgEntryPrice)
	}
}

// TestLedgerShortRealization: shorts profit when price falls below entry.
func TestLedgerShortRealization(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	bot := testBot(pool.MarketMakerID)

	mustApply(t, l, pool, bot, realFill(bot, domain.SideSell, "100", "2"))
	realized, err := l.Apply(pool, bot, realFill(bot, domain.SideBuy, "90", "2"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !realized.Equal(dec("20")) {
		t.Errorf("expected short profit 20, got %s", realized)
	}
	if !bot.CurrentPosition.IsZero() || !bot.AvgEntryPrice.IsZero() {
		t.Errorf("flat position must reset entry, got %s @ %s", bot.CurrentPosition, bot.AvgEntryPrice)
	}
}

// TestLedgerRejectsOverdraft: a fill that would drive a balance negative
// is rejected and changes nothing at all.
func TestLedgerRejectsOverdraft(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	pool.QuoteCurrencyBalance = dec("50")
	bot := testBot(pool.MarketMakerID)

	_, err := l.Apply(pool, bot, realFill(bot, domain.SideBuy, "100", "1")) // needs 100 quote
	if !errors.Is(err, domain.ErrInsufficientPoolBalance) {
		t.Fatalf("expected ErrInsufficientPoolBalance, got %v", err)
	}
	if !pool.QuoteCurrencyBalance.Equal(dec("50")) {
		t.Errorf("quote balance mutated on a rejected fill: %s", pool.QuoteCurrencyBalance)
	}
	if bot.RealTradesExecuted != 0 || !bot.CurrentPosition.IsZero() {
		t.Errorf("bot counters mutated on a rejected fill")
	}

	// Selling more base than the pool holds is equally rejected.
	pool.BaseCurrencyBalance = dec("0.5")
	if _, err := l.Apply(pool, bot, realFill(bot, domain.SideSell, "100", "1")); !errors.Is(err, domain.ErrInsufficientPoolBalance) {
		t.Fatalf("expected ErrInsufficientPoolBalance on base overdraft, got %v", err)
	}
}

// TestLedgerSimulatedFillsLeaveBotCountersUntouched: the realized/simulated
// separation invariant — simulated crosses settle pool balances and the
// in-memory position, never the bot's persisted performance counters.
func TestLedgerSimulatedFillsLeaveBotCountersUntouched(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	bot := testBot(pool.MarketMakerID)

	mustApply(t, l, pool, bot, simFill(bot, domain.SideBuy, "100", "2"))
	mustApply(t, l, pool, bot, simFill(bot, domain.SideSell, "110", "1"))

	if bot.RealTradesExecuted != 0 || !bot.TotalRealizedPnL.IsZero() ||
		!bot.TotalVolume.IsZero() || !bot.CurrentPosition.IsZero() {
		t.Errorf("simulated fills leaked into real counters: %+v", bot)
	}

	qty, avgEntry := l.SimPosition(bot.ID)
	if !qty.Equal(dec("1")) || !avgEntry.Equal(dec("100")) {
		t.Errorf("expected sim position 1 @ 100, got %s @ %s", qty, avgEntry)
	}
	// Realized P&L from simulated crosses still belongs to the pool.
	if !pool.RealizedPnL.Equal(dec("10")) {
		t.Errorf("expected pool realized 10, got %s", pool.RealizedPnL)
	}
}

// TestLedgerRecompute: unrealized P&L marks every open position, real and
// simulated, at the given price.
func TestLedgerRecompute(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	bot := testBot(pool.MarketMakerID)
	sim := testBot(pool.MarketMakerID)

	mustApply(t, l, pool, bot, realFill(bot, domain.SideBuy, "100", "2"))
	mustApply(t, l, pool, sim, simFill(sim, domain.SideBuy, "100", "1"))

	l.Recompute(pool, []*domain.Bot{bot, sim}, dec("105"))

	// (105-100)×2 real + (105-100)×1 simulated.
	if !pool.UnrealizedPnL.Equal(dec("15")) {
		t.Errorf("expected unrealized 15, got %s", pool.UnrealizedPnL)
	}
	want := pool.BaseCurrencyBalance.Mul(dec("105")).Add(pool.QuoteCurrencyBalance)
	if !pool.TotalValueLocked.Equal(want) {
		t.Errorf("TVL mismatch: expected %s, got %s", want, pool.TotalValueLocked)
	}
}

// TestRebalanceEvenSplit: rebalancing moves the pool to a 50/50 value
// split at the mark price and stamps the timestamp.
func TestRebalanceEvenSplit(t *testing.T) {
	l := NewPoolLedger()
	pool := testPool(newID())
	pool.BaseCurrencyBalance = dec("10")
	pool.QuoteCurrencyBalance = dec("0")

	d := l.Rebalance(pool, dec("2"), time.Now().UTC(), "manual")

	if !pool.BaseCurrencyBalance.Equal(dec("5")) {
		t.Errorf("expected base 5, got %s", pool.BaseCurrencyBalance)
	}
	if !pool.QuoteCurrencyBalance.Equal(dec("10")) {
		t.Errorf("expected quote 10, got %s", pool.QuoteCurrencyBalance)
	}
	if !d.BaseDelta.Equal(dec("-5")) || !d.QuoteDelta.Equal(dec("10")) {
		t.Errorf("unexpected deltas: base %s quote %s", d.BaseDelta, d.QuoteDelta)
	}
	if pool.LastRebalanceAt == nil {
		t.Error("LastRebalanceAt not stamped")
	}
	// Value is conserved.
	if !pool.ValueAt(dec("2")).Equal(dec("20")) {
		t.Errorf("rebalance must conserve value, got %s", pool.ValueAt(dec("2")))
	}
}

func mustApply(t *testing.T, l *PoolLedger, pool *domain.Pool, bot *domain.Bot, f *domain.Fill) {
	t.Helper()
	if _, err := l.Apply(pool, bot, f); err != nil {
		t.Fatalf("apply: %v", err)
	}
}
