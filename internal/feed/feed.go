// Package feed supplies external reference prices for FOLLOW_EXTERNAL and
// HYBRID instances: parallel fetches from multiple exchanges, a weighted
// average over the sources that answered, and a short-TTL cache (Redis when
// configured, in-memory otherwise).
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/marketmaker/internal/config"
	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// exchangeDef describes a single price source.
type exchangeDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Source is one successful exchange fetch, surfaced for health dashboards.
type Source struct {
	Exchange  string          `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// cacheEntry is one symbol's cached aggregate.
type cacheEntry struct {
	price   decimal.Decimal
	sources []Source
	at      time.Time
}

// Feed fetches reference prices per symbol from Binance, Bybit and OKX in
// parallel and computes a weighted average over whichever sources answered.
// Implements engine.PriceFeed.
type Feed struct {
	client *http.Client
	cfg    *config.FeedConfig
	rdb    *redis.Client // nil when Redis is disabled
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry // keyed by symbol

	statusMu    sync.RWMutex
	lastSuccess map[string]time.Time
	exchanges   []exchangeDef
}

// New constructs a Feed. rdb may be nil; the in-memory cache then stands
// alone.
func New(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) *Feed {
	f := &Feed{
		client: &http.Client{Timeout: cfg.Feed.FetchTimeout},
		cfg:    &cfg.Feed,
		rdb:    rdb,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		lastSuccess: map[string]time.Time{
			exchangeBinance: {},
			exchangeBybit:   {},
			exchangeOKX:     {},
		},
	}

	f.exchanges = []exchangeDef{
		{name: exchangeBinance, weight: decimal.NewFromInt(int64(cfg.Feed.BinanceWeight)), fetch: f.fetchBinance},
		{name: exchangeBybit, weight: decimal.NewFromInt(int64(cfg.Feed.BybitWeight)), fetch: f.fetchBybit},
		{name: exchangeOKX, weight: decimal.NewFromInt(int64(cfg.Feed.OKXWeight)), fetch: f.fetchOKX},
	}
	return f
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// LatestPrice returns the weighted reference price for symbol (exchange
// notation, e.g. "BTCUSDT"). A fresh cached value short-circuits the
// fetch. When every exchange fails, domain.ErrFeedUnavailable is returned
// and callers fall back to their autonomous model.
func (f *Feed) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, _, err := f.WeightedPrice(ctx, symbol)
	return price, err
}

// WeightedPrice is LatestPrice plus the per-source breakdown.
func (f *Feed) WeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []Source, error) {
	f.mu.RLock()
	if e, ok := f.cache[symbol]; ok && time.Since(e.at) < f.cfg.CacheTTL {
		price, sources := e.price, e.sources
		f.mu.RUnlock()
		return price, sources, nil
	}
	f.mu.RUnlock()

	if price, ok := f.redisGet(ctx, symbol); ok {
		return price, nil, nil
	}

	type result struct {
		name  string
		price decimal.Decimal
		err   error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.client.Timeout)
	defer cancel()

	resultCh := make(chan result, len(f.exchanges))
	for _, ex := range f.exchanges {
		go func(ex exchangeDef) {
			p, err := ex.fetch(fetchCtx, symbol)
			resultCh <- result{name: ex.name, price: p, err: err}
		}(ex)
	}

	raw := make(map[string]result, len(f.exchanges))
	for range f.exchanges {
		r := <-resultCh
		raw[r.name] = r
	}

	var sources []Source
	var sumWeighted, sumWeights decimal.Decimal
	now := time.Now()

	for _, ex := range f.exchanges {
		r := raw[ex.name]
		if r.err != nil || r.price.IsZero() {
			if r.err != nil {
				f.logger.Debug("exchange fetch failed", "exchange", ex.name, "symbol", symbol, "err", r.err)
			}
			continue
		}
		sources = append(sources, Source{
			Exchange:  ex.name,
			Price:     r.price,
			Weight:    ex.weight,
			FetchedAt: now,
		})
		sumWeighted = sumWeighted.Add(r.price.Mul(ex.weight))
		sumWeights = sumWeights.Add(ex.weight)

		f.statusMu.Lock()
		f.lastSuccess[ex.name] = now
		f.statusMu.Unlock()
	}

	// Weights re-normalise over the sources that answered; one exchange is
	// enough to serve a price.
	if len(sources) == 0 {
		return decimal.Zero, nil, fmt.Errorf("feed: %s: %w", symbol, domain.ErrFeedUnavailable)
	}
	weightedAvg := sumWeighted.Div(sumWeights)

	f.mu.Lock()
	f.cache[symbol] = cacheEntry{price: weightedAvg, sources: sources, at: now}
	f.mu.Unlock()
	f.redisSet(ctx, symbol, weightedAvg)

	return weightedAvg, sources, nil
}

// CachedPrice returns the most recent in-memory aggregate for symbol and
// whether it is still within TTL.
func (f *Feed) CachedPrice(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.cache[symbol]
	if !ok || time.Since(e.at) >= f.cfg.CacheTTL {
		return decimal.Zero, false
	}
	return e.price, true
}

// ExchangeStatus reports which exchanges answered within the last 5s.
// Used by the admin health endpoint.
func (f *Feed) ExchangeStatus() map[string]bool {
	threshold := 5 * time.Second
	f.statusMu.RLock()
	defer f.statusMu.RUnlock()

	status := make(map[string]bool, len(f.lastSuccess))
	for name, t := range f.lastSuccess {
		status[name] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

// ──────────────────────────────────────────────────────────────────────────────
// Redis cache
// ──────────────────────────────────────────────────────────────────────────────

func feedCacheKey(symbol string) string { return "feed:price:" + symbol }

// redisGet consults the shared Redis cache. Any Redis error is treated as
// a miss; the feed must keep working when Redis is down.
func (f *Feed) redisGet(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if f.rdb == nil {
		return decimal.Zero, false
	}
	val, err := f.rdb.Get(ctx, feedCacheKey(symbol)).Result()
	if err != nil {
		if err != redis.Nil {
			f.logger.Debug("redis cache read failed", "symbol", symbol, "err", err)
		}
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

func (f *Feed) redisSet(ctx context.Context, symbol string, price decimal.Decimal) {
	if f.rdb == nil {
		return
	}
	if err := f.rdb.Set(ctx, feedCacheKey(symbol), price.String(), f.cfg.CacheTTL).Err(); err != nil {
		f.logger.Debug("redis cache write failed", "symbol", symbol, "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchBinance fetches a spot price from the Binance REST API.
//
//	GET /api/v3/ticker/price?symbol=BTCUSDT
//	{"symbol":"BTCUSDT","price":"87350.00"}
func (f *Feed) fetchBinance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := f.cfg.BinanceURL + "/api/v3/ticker/price?symbol=" + symbol
	body, err := f.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance decimal: %w", err)
	}
	return price, nil
}

// fetchBybit fetches a spot price from the Bybit REST API.
//
//	GET /v5/market/tickers?category=spot&symbol=BTCUSDT
//	{"result":{"list":[{"lastPrice":"87350.00",...}]}}
func (f *Feed) fetchBybit(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := f.cfg.BybitURL + "/v5/market/tickers?category=spot&symbol=" + symbol
	body, err := f.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	price, err := decimal.NewFromString(resp.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit decimal: %w", err)
	}
	return price, nil
}

// fetchOKX fetches a spot price from the OKX REST API. OKX instrument ids
// are dash-separated ("BTC-USDT"), derived from the exchange symbol.
func (f *Feed) fetchOKX(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := f.cfg.OKXURL + "/api/v5/market/ticker?instId=" + okxInstID(symbol)
	body, err := f.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}

	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("okx parse: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Last == "" {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	price, err := decimal.NewFromString(resp.Data[0].Last)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx decimal: %w", err)
	}
	return price, nil
}

// okxInstID converts "BTCUSDT" to "BTC-USDT" for the known quote suffixes.
func okxInstID(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "USD", "BTC", "ETH"} {
		if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
			return base + "-" + quote
		}
	}
	return symbol
}

// doGet performs an HTTP GET with the feed's client and returns the body
// bytes, or an error for any non-200 status code.
func (f *Feed) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "evetabi-marketmaker/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
