package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/evetabi/marketmaker/internal/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ──────────────────────────────────────────────────────────────────────────────
// Manager — runner lifecycle and per-instance serialization
// ──────────────────────────────────────────────────────────────────────────────

type instance struct {
	cancel context.CancelFunc
	runner *Runner
}

// Manager owns one Runner per active MarketMaker and the per-instance mutex
// that serializes ticks against admin operations and the daily reset. All
// writes touching an instance's pool or bots go through WithLock.
type Manager struct {
	cfg    *config.Config
	store  Store
	feed   PriceFeed
	book   OrderBook
	hub    Broadcaster
	logger *slog.Logger

	mu        sync.Mutex // guards instances and the errgroup
	instances map[uuid.UUID]*instance

	lockMu sync.Mutex // guards locks; separate so Lock works under mu
	locks  map[uuid.UUID]*sync.Mutex

	g    *errgroup.Group
	gctx context.Context
}

// NewManager builds an engine manager. hub may be nil when no websocket
// layer is attached.
func NewManager(cfg *config.Config, store Store, feed PriceFeed, book OrderBook, hub Broadcaster, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		feed:      feed,
		book:      book,
		hub:       hub,
		logger:    logger,
		locks:     make(map[uuid.UUID]*sync.Mutex),
		instances: make(map[uuid.UUID]*instance),
	}
}

// Run starts runners for every ACTIVE MarketMaker and blocks until ctx is
// cancelled and all runners have drained.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.g, m.gctx = errgroup.WithContext(ctx)
	// Keep the group alive while no runners exist yet.
	m.g.Go(func() error {
		<-m.gctx.Done()
		return nil
	})
	m.mu.Unlock()

	active, err := m.store.ListActiveMarketMakers(ctx)
	if err != nil {
		return fmt.Errorf("manager: list active market makers: %w", err)
	}
	for _, mm := range active {
		if err := m.StartInstance(mm.ID); err != nil {
			m.logger.Error("failed to start runner", "market_ref", mm.MarketRef, "err", err)
		}
	}
	m.logger.Info("engine started", "active_instances", len(active))

	return m.g.Wait()
}

// StartInstance launches the tick loop for one MarketMaker. Starting an
// instance that is already running is a no-op.
func (m *Manager) StartInstance(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.g == nil {
		return fmt.Errorf("manager: not running")
	}
	if _, ok := m.instances[id]; ok {
		return nil
	}

	r := m.newRunner(id)
	runCtx, cancel := context.WithCancel(m.gctx)
	m.instances[id] = &instance{cancel: cancel, runner: r}

	m.g.Go(func() error {
		defer m.forget(id)
		return r.Run(runCtx)
	})
	return nil
}

// StopInstance cancels a running tick loop. The instance's persisted status
// is the admin service's concern; this only tears down the goroutine.
func (m *Manager) StopInstance(id uuid.UUID) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if ok {
		inst.cancel()
	}
}

// Running reports whether a tick loop exists for the given instance.
func (m *Manager) Running(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[id]
	return ok
}

// Ledger exposes the running instance's pool ledger so admin operations can
// rebalance and recompute using the same simulated-position state the tick
// loop sees. Returns nil when the instance is not running.
func (m *Manager) Ledger(id uuid.UUID) *PoolLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst.runner.ledger
	}
	return nil
}

// ForgetBot drops a bot's in-memory scheduling state after deletion. The
// tick loop reads and writes the same per-bot maps, so the drop happens
// under the instance lock.
func (m *Manager) ForgetBot(mmID, botID uuid.UUID) {
	lk := m.Lock(mmID)
	lk.Lock()
	defer lk.Unlock()

	m.mu.Lock()
	inst, ok := m.instances[mmID]
	m.mu.Unlock()
	if ok {
		inst.runner.bots.Forget(botID)
	}
}

// Lock returns the serialization mutex for one instance, creating it on
// first use. The mutex outlives the runner so admin operations on stopped
// instances still serialize against each other.
func (m *Manager) Lock(id uuid.UUID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lk, ok := m.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[id] = lk
	}
	return lk
}

// WithLock runs fn while holding the instance's serialization mutex.
func (m *Manager) WithLock(id uuid.UUID, fn func() error) error {
	lk := m.Lock(id)
	lk.Lock()
	defer lk.Unlock()
	return fn()
}

func (m *Manager) forget(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, id)
}

func (m *Manager) newRunner(id uuid.UUID) *Runner {
	ec := m.cfg.Engine
	synth := NewSynthesizer(
		NewPhaseController(ec.BasePhaseDuration),
		NewMomentumModel(ec.MomentumCutoff, ec.ExtremeCutoff),
		NewCorrelator(m.feed, m.logger),
	)
	return &Runner{
		id:          id,
		lock:        m.Lock(id),
		store:       m.store,
		synth:       synth,
		bots:        NewBotManager(),
		router:      NewLiquidityRouter(m.book, m.cfg.OrderBook.SubmitTimeout, m.logger),
		ledger:      NewPoolLedger(),
		governor:    NewRiskGovernor(),
		hub:         m.hub,
		logger:      m.logger.With("component", "runner"),
		rng:         rand.New(rand.NewSource(instanceSeed(ec.Seed, id))),
		interval:    ec.TickInterval,
		clampLogPct: decimal.NewFromFloat(ec.ClampLogPercent),
	}
}

// instanceSeed derives a deterministic per-instance seed when a base seed is
// configured, so replays reproduce an instance's exact trajectory. A zero
// base seed keeps runs independent.
func instanceSeed(base int64, id uuid.UUID) int64 {
	if base == 0 {
		return time.Now().UnixNano() ^ idBits(id)
	}
	return base ^ idBits(id)
}

func idBits(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}
