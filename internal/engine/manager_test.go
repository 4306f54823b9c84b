package engine

import (
	"context"
	"testing"
	"time"

	"github.com/evetabi/marketmaker/internal/config"
)

func testEngineConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			TickInterval:      time.Millisecond,
			BasePhaseDuration: 15 * time.Minute,
			MomentumCutoff:    0.95,
			ExtremeCutoff:     0.99,
			ClampLogPercent:   1,
			Seed:              1,
		},
		OrderBook: config.OrderBookConfig{SubmitTimeout: time.Second},
	}
}

// TestForgetBotSerializesWithRunningTicks hammers ForgetBot against a live
// tick loop. The tick's evaluation pass reads and writes the same per-bot
// scheduling maps, so ForgetBot must take the instance lock before dropping
// entries; the race detector flags any unserialized access.
func TestForgetBotSerializesWithRunningTicks(t *testing.T) {
	mm := testMarketMaker()
	bot := testBot(mm.ID) // SCALPER exercises the alternation map every tick
	store := &rowStore{memStore: newMemStore(mm, testPool(mm.ID), bot)}

	m := NewManager(testEngineConfig(), store,
		&stubFeed{price: dec("1.5")},
		&stubBook{errs: []error{nil}, results: []OrderResult{{}}},
		nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !m.Running(mm.ID) {
		if time.Now().After(deadline) {
			cancel()
			<-runDone
			t.Fatal("runner never started")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 500; i++ {
		m.ForgetBot(mm.ID, bot.ID)
		if i%50 == 0 {
			time.Sleep(time.Millisecond) // let ticks interleave
		}
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}

	store.mu.Lock()
	commits := store.commits
	store.mu.Unlock()
	if commits == 0 {
		t.Error("expected committed ticks while forgetting the bot")
	}
}

// TestStartInstanceIdempotent: starting a running instance is a no-op and
// stopping tears the loop down so Running reports false.
func TestStartInstanceIdempotent(t *testing.T) {
	mm := testMarketMaker()
	store := &rowStore{memStore: newMemStore(mm, testPool(mm.ID))}

	m := NewManager(testEngineConfig(), store,
		&stubFeed{price: dec("1.5")},
		&stubBook{errs: []error{nil}, results: []OrderResult{{}}},
		nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !m.Running(mm.ID) {
		if time.Now().After(deadline) {
			cancel()
			<-runDone
			t.Fatal("runner never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.StartInstance(mm.ID); err != nil {
		t.Fatalf("second start: %v", err)
	}

	m.StopInstance(mm.ID)
	deadline = time.Now().Add(2 * time.Second)
	for m.Running(mm.ID) {
		if time.Now().After(deadline) {
			cancel()
			<-runDone
			t.Fatal("runner never drained after stop")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}
}
