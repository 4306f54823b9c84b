// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings for the admin API.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// RedisConfig holds the optional price-cache Redis settings.
// An empty Addr disables Redis; the feed then keeps its cache in memory.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"; "" = disabled
	Password string
	DB       int
}

// AdminConfig holds admin-surface authentication settings.
type AdminConfig struct {
	JWTSecret string        // must be set in production
	TokenTTL  time.Duration // default 12h
}

// FeedConfig holds external reference-price feed settings.
type FeedConfig struct {
	BinanceURL   string        // default "https://api.binance.com"
	BybitURL     string        // default "https://api.bybit.com"
	OKXURL       string        // default "https://www.okx.com"
	FetchTimeout time.Duration // default 2s
	CacheTTL     time.Duration // default 1s
	// RefreshInterval drives the scheduler's cache-warming loop.
	RefreshInterval time.Duration // default 5s
	// Weight percentages (must sum to 100)
	BinanceWeight int // default 50
	BybitWeight   int // default 30
	OKXWeight     int // default 20
}

// OrderBookConfig holds the real matching-engine client settings.
type OrderBookConfig struct {
	BaseURL       string        // matching engine REST endpoint
	SubmitTimeout time.Duration // default 3s; a timeout is a router failure
}

// EngineConfig holds tick-loop and price-process tuning.
type EngineConfig struct {
	TickInterval      time.Duration // default 5s
	BasePhaseDuration time.Duration // default 15m, scaled per instance
	MomentumCutoff    float64       // |draw| above this logs a MOMENTUM_EVENT; default 0.95
	ExtremeCutoff     float64       // |draw| above this is SPIKE/FLASH_CRASH; default 0.99
	ClampLogPercent   float64       // clamp deviation (%) worth a history entry; default 1.0
	Seed              int64         // 0 = time-seeded; non-zero for reproducible runs
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Admin     AdminConfig
	Feed      FeedConfig
	OrderBook OrderBookConfig
	Engine    EngineConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns the first validation error encountered.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProd() && c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SECRET must be set in production"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	total := c.Feed.BinanceWeight + c.Feed.BybitWeight + c.Feed.OKXWeight
	if total != 100 {
		errs = append(errs, fmt.Errorf(
			"feed weights must sum to 100, got %d (Binance=%d Bybit=%d OKX=%d)",
			total, c.Feed.BinanceWeight, c.Feed.BybitWeight, c.Feed.OKXWeight,
		))
	}

	if c.Engine.TickInterval <= 0 {
		errs = append(errs, errors.New("ENGINE_TICK_INTERVAL must be positive"))
	}
	if c.Engine.MomentumCutoff <= 0 || c.Engine.MomentumCutoff >= 1 {
		errs = append(errs, fmt.Errorf(
			"ENGINE_MOMENTUM_CUTOFF must be between 0 and 1 (exclusive), got %.4f",
			c.Engine.MomentumCutoff,
		))
	}
	if c.Engine.ExtremeCutoff <= c.Engine.MomentumCutoff || c.Engine.ExtremeCutoff > 1 {
		errs = append(errs, fmt.Errorf(
			"ENGINE_EXTREME_CUTOFF must be in (momentum cutoff, 1], got %.4f",
			c.Engine.ExtremeCutoff,
		))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:         getEnv("SERVER_PORT", "8080"),
		Env:          getEnv("ENVIRONMENT", "development"),
		ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "evetabi_marketmaker"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── Redis (optional price cache) ──────────────────────────────────────────
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       redisDB,
	}

	// ── Admin ─────────────────────────────────────────────────────────────────
	cfg.Admin = AdminConfig{
		JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		TokenTTL:  getDuration("ADMIN_TOKEN_TTL", 12*time.Hour),
	}

	// ── Feed ──────────────────────────────────────────────────────────────────
	binW, err := getInt("FEED_BINANCE_WEIGHT", 50)
	if err != nil {
		return nil, fmt.Errorf("FEED_BINANCE_WEIGHT: %w", err)
	}
	byW, err := getInt("FEED_BYBIT_WEIGHT", 30)
	if err != nil {
		return nil, fmt.Errorf("FEED_BYBIT_WEIGHT: %w", err)
	}
	okxW, err := getInt("FEED_OKX_WEIGHT", 20)
	if err != nil {
		return nil, fmt.Errorf("FEED_OKX_WEIGHT: %w", err)
	}

	cfg.Feed = FeedConfig{
		BinanceURL:    getEnv("FEED_BINANCE_URL", "https://api.binance.com"),
		BybitURL:      getEnv("FEED_BYBIT_URL", "https://api.bybit.com"),
		OKXURL:        getEnv("FEED_OKX_URL", "https://www.okx.com"),
		FetchTimeout:    getDuration("FEED_FETCH_TIMEOUT", 2*time.Second),
		CacheTTL:        getDuration("FEED_CACHE_TTL", 1*time.Second),
		RefreshInterval: getDuration("FEED_REFRESH_INTERVAL", 5*time.Second),
		BinanceWeight: binW,
		BybitWeight:   byW,
		OKXWeight:     okxW,
	}

	// ── Order book ────────────────────────────────────────────────────────────
	cfg.OrderBook = OrderBookConfig{
		BaseURL:       getEnv("ORDERBOOK_BASE_URL", "http://localhost:9090"),
		SubmitTimeout: getDuration("ORDERBOOK_SUBMIT_TIMEOUT", 3*time.Second),
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	// Cutoffs sit deep in the uniform tail: at a 5s tick interval anything
	// looser floods the audit trail with thousands of rows per day.
	momentumCutoff, err := getFloat("ENGINE_MOMENTUM_CUTOFF", 0.95)
	if err != nil {
		return nil, fmt.Errorf("ENGINE_MOMENTUM_CUTOFF: %w", err)
	}
	extremeCutoff, err := getFloat("ENGINE_EXTREME_CUTOFF", 0.99)
	if err != nil {
		return nil, fmt.Errorf("ENGINE_EXTREME_CUTOFF: %w", err)
	}
	clampLog, err := getFloat("ENGINE_CLAMP_LOG_PERCENT", 1.0)
	if err != nil {
		return nil, fmt.Errorf("ENGINE_CLAMP_LOG_PERCENT: %w", err)
	}
	seed, err := getInt("ENGINE_SEED", 0)
	if err != nil {
		return nil, fmt.Errorf("ENGINE_SEED: %w", err)
	}

	cfg.Engine = EngineConfig{
		TickInterval:      getDuration("ENGINE_TICK_INTERVAL", 5*time.Second),
		BasePhaseDuration: getDuration("ENGINE_BASE_PHASE_DURATION", 15*time.Minute),
		MomentumCutoff:    momentumCutoff,
		ExtremeCutoff:     extremeCutoff,
		ClampLogPercent:   clampLog,
		Seed:              int64(seed),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Fall back to the default; do not crash on a parse error
		return defaultVal
	}
	return d
}
