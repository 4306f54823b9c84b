package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
)

func testOrder(bot *domain.Bot) domain.Order {
	return domain.Order{
		BotID:     bot.ID,
		MarketRef: "AIX-USDT",
		Side:      domain.SideBuy,
		Price:     dec("1.5"),
		Amount:    dec("10"),
	}
}

// TestRouterZeroPercentAlwaysSimulated: an instance with no real liquidity
// never reaches the order book.
func TestRouterZeroPercentAlwaysSimulated(t *testing.T) {
	book := &stubBook{errs: []error{errors.New("must not be called")}}
	lr := NewLiquidityRouter(book, time.Second, discardLogger())

	mm := testMarketMaker() // realLiquidityPercent 0
	bot := testBot(mm.ID)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		fill, err := lr.Route(context.Background(), mm, testOrder(bot), rng)
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if fill.Real {
			t.Fatal("zero real liquidity produced a real fill")
		}
		if !fill.Price.Equal(dec("1.5")) || !fill.Amount.Equal(dec("10")) {
			t.Fatalf("simulated fill must settle at the candidate terms, got %s × %s", fill.Amount, fill.Price)
		}
	}
	if book.calls != 0 {
		t.Errorf("order book called %d times", book.calls)
	}
}

// TestRouterRetriesRejectionOnce: one rejection is retried; the second
// attempt's fill carries the book's execution terms.
func TestRouterRetriesRejectionOnce(t *testing.T) {
	book := &stubBook{
		errs: []error{&RejectionError{Reason: "price out of band"}, nil},
		results: []OrderResult{
			{},
			{FillPrice: dec("1.49"), FillAmount: dec("10"), OrderRef: "ob-123"},
		},
	}
	lr := NewLiquidityRouter(book, time.Second, discardLogger())

	mm := testMarketMaker()
	mm.RealLiquidityPercent = dec("100")
	bot := testBot(mm.ID)

	fill, err := lr.Route(context.Background(), mm, testOrder(bot), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !fill.Real {
		t.Fatal("expected a real fill")
	}
	if fill.OrderRef != "ob-123" || !fill.Price.Equal(dec("1.49")) {
		t.Errorf("fill must carry the book's terms, got %s ref %q", fill.Price, fill.OrderRef)
	}
	if book.calls != 2 {
		t.Errorf("expected 2 submissions, got %d", book.calls)
	}
}

// TestRouterDropsAfterRetry: a real order that fails twice is dropped with
// an error — it must never degrade into a simulated fill, or the real
// performance counters downstream would be corrupted.
func TestRouterDropsAfterRetry(t *testing.T) {
	rej := &RejectionError{Reason: "book closed"}
	book := &stubBook{errs: []error{rej, rej}, results: []OrderResult{{}, {}}}
	lr := NewLiquidityRouter(book, time.Second, discardLogger())

	mm := testMarketMaker()
	mm.RealLiquidityPercent = dec("100")
	bot := testBot(mm.ID)

	fill, err := lr.Route(context.Background(), mm, testOrder(bot), rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatal("expected the order to be dropped")
	}
	if fill != nil {
		t.Fatal("a failed real submission must not produce a fill")
	}
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Errorf("expected ErrOrderRejected in the chain, got %v", err)
	}
	if book.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", book.calls)
	}
}

// TestRouterStopsRetryingOnCancelledContext: shutdown aborts the retry.
func TestRouterStopsRetryingOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rej := &RejectionError{Reason: "slow"}
	book := &stubBook{errs: []error{rej, rej}, results: []OrderResult{{}, {}}}
	lr := NewLiquidityRouter(book, time.Second, discardLogger())

	mm := testMarketMaker()
	mm.RealLiquidityPercent = dec("100")
	bot := testBot(mm.ID)

	cancel()
	_, err := lr.Route(ctx, mm, testOrder(bot), rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatal("expected an error")
	}
	if book.calls != 1 {
		t.Errorf("cancelled context must not retry, got %d attempts", book.calls)
	}
}
