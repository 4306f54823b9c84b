package engine

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ───── shared fixtures ─────

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newID() uuid.UUID { return uuid.New() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testMarketMaker returns a sane ACTIVE instance: autonomous pricing, no
// real liquidity, mid-cycle phase schedule far in the future.
func testMarketMaker() *domain.MarketMaker {
	return &domain.MarketMaker{
		ID:                    uuid.New(),
		MarketRef:             "AIX-USDT",
		Status:                domain.MMStatusActive,
		AggressionLevel:       dec("5"),
		VolatilityThreshold:   dec("10"),
		PauseOnHighVolatility: true,
		RealLiquidityPercent:  decimal.Zero,
		PriceMode:             domain.PriceModeAutonomous,
		CorrelationStrength:   decimal.Zero,
		MarketBias:            domain.BiasNeutral,
		BiasStrength:          decimal.Zero,
		CurrentPhase:          domain.PhaseAccumulation,
		PhaseStartedAt:        time.Now().UTC(),
		NextPhaseChangeAt:     time.Now().UTC().Add(time.Hour),
		BaseVolatility:        dec("2"),
		VolatilityMultiplier:  dec("1"),
		MomentumDecay:         dec("0.95"),
		LastKnownPrice:        dec("1.5"),
	}
}

func testBot(mmID uuid.UUID) *domain.Bot {
	return &domain.Bot{
		ID:                uuid.New(),
		MarketMakerID:     mmID,
		Name:              "scalper-01",
		Personality:       domain.PersonalityScalper,
		RiskTolerance:     dec("0.5"),
		TradeFrequency:    domain.FrequencyHigh,
		AvgOrderSize:      dec("10"),
		OrderSizeVariance: dec("0.2"),
		PreferredSpread:   dec("0.002"),
		Status:            domain.BotStatusActive,
		MaxDailyTrades:    1000,
	}
}

func testPool(mmID uuid.UUID) *domain.Pool {
	return &domain.Pool{
		ID:                   uuid.New(),
		MarketMakerID:        mmID,
		BaseCurrencyBalance:  dec("100000"),
		QuoteCurrencyBalance: dec("100000"),
		InitialBaseBalance:   dec("100000"),
		InitialQuoteBalance:  dec("100000"),
	}
}

// ───── in-memory fakes ─────

// memStore is an in-memory Store for runner tests. Commits mutate the held
// aggregates in place, matching the transactional store's observable
// behavior.
type memStore struct {
	mu      sync.Mutex
	mm      *domain.MarketMaker
	pool    *domain.Pool
	bots    []*domain.Bot
	history []*domain.HistoryEntry
	commits int
}

func newMemStore(mm *domain.MarketMaker, pool *domain.Pool, bots ...*domain.Bot) *memStore {
	return &memStore{mm: mm, pool: pool, bots: bots}
}

func (s *memStore) GetMarketMaker(_ context.Context, id uuid.UUID) (*domain.MarketMaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mm == nil || s.mm.ID != id {
		return nil, domain.ErrMarketMakerNotFound
	}
	return s.mm, nil
}

func (s *memStore) ListActiveMarketMakers(_ context.Context) ([]*domain.MarketMaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mm != nil && s.mm.Status == domain.MMStatusActive {
		return []*domain.MarketMaker{s.mm}, nil
	}
	return nil, nil
}

func (s *memStore) GetPool(_ context.Context, mmID uuid.UUID) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil || s.pool.MarketMakerID != mmID {
		return nil, domain.ErrPoolNotFound
	}
	return s.pool, nil
}

func (s *memStore) ListBots(_ context.Context, mmID uuid.UUID) ([]*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Bot
	for _, b := range s.bots {
		if b.MarketMakerID == mmID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) CommitTick(_ context.Context, commit *TickCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	s.history = append(s.history, commit.Entries...)
	return nil
}

func (s *memStore) AppendHistory(_ context.Context, entry *domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

// entriesByAction filters recorded history by action.
func (s *memStore) entriesByAction(a domain.Action) []*domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.HistoryEntry
	for _, e := range s.history {
		if e.EntryAction == a {
			out = append(out, e)
		}
	}
	return out
}

// rowStore layers SQL row semantics over memStore for the market maker:
// reads return a detached copy of the row and commits write the full row
// back, the way the transactional store's UPDATE does.
type rowStore struct {
	*memStore
}

func (s *rowStore) GetMarketMaker(_ context.Context, id uuid.UUID) (*domain.MarketMaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mm == nil || s.mm.ID != id {
		return nil, domain.ErrMarketMakerNotFound
	}
	cp := *s.mm
	return &cp, nil
}

func (s *rowStore) CommitTick(_ context.Context, commit *TickCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	if commit.MarketMaker != nil {
		cp := *commit.MarketMaker
		s.mm = &cp
	}
	s.history = append(s.history, commit.Entries...)
	return nil
}

func (s *rowStore) setStatus(status domain.MMStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mm.Status = status
}

func (s *rowStore) status() domain.MMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mm.Status
}

// stubFeed returns a fixed price, or err when set.
type stubFeed struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *stubFeed) LatestPrice(context.Context, string) (decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.price, nil
}

// stubBook replays a scripted sequence of responses, then keeps returning
// the final one.
type stubBook struct {
	mu      sync.Mutex
	results []OrderResult
	errs    []error
	calls   int
}

func (b *stubBook) SubmitOrder(_ context.Context, _ OrderRequest) (OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	if i >= len(b.errs) {
		i = len(b.errs) - 1
	}
	if b.errs[i] != nil {
		return OrderResult{}, b.errs[i]
	}
	return b.results[i], nil
}

// newTestRunner wires a runner over the fakes with a fixed seed.
func newTestRunner(store Store, feed PriceFeed, book OrderBook, mm *domain.MarketMaker) *Runner {
	synth := NewSynthesizer(
		NewPhaseController(15*time.Minute),
		NewMomentumModel(0.5, 0.8),
		NewCorrelator(feed, discardLogger()),
	)
	return &Runner{
		id:          mm.ID,
		lock:        &sync.Mutex{},
		store:       store,
		synth:       synth,
		bots:        NewBotManager(),
		router:      NewLiquidityRouter(book, time.Second, discardLogger()),
		ledger:      NewPoolLedger(),
		governor:    NewRiskGovernor(),
		logger:      discardLogger(),
		rng:         rand.New(rand.NewSource(1)),
		interval:    time.Millisecond,
		clampLogPct: dec("1"),
	}
}
