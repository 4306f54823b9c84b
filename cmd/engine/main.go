// Package main is the entry point for the evetabi market-maker engine.  It
// wires together the tick engine, admin API, WebSocket hub and background
// scheduler, and runs them until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/marketmaker/internal/api"
	"github.com/evetabi/marketmaker/internal/config"
	"github.com/evetabi/marketmaker/internal/engine"
	"github.com/evetabi/marketmaker/internal/feed"
	"github.com/evetabi/marketmaker/internal/orderbook"
	"github.com/evetabi/marketmaker/internal/repository"
	"github.com/evetabi/marketmaker/internal/scheduler"
	"github.com/evetabi/marketmaker/internal/service"
	"github.com/evetabi/marketmaker/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting evetabi market-maker engine", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Redis (optional feed cache) ────────────────────────────────────────
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, feed cache stays in memory", "err", err)
			rdb = nil
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	// ── 5. Repositories ───────────────────────────────────────────────────────
	makerRepo := repository.NewMarketMakerRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	botRepo := repository.NewBotRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	tickStore := repository.NewTickStore(db, makerRepo, poolRepo, botRepo, historyRepo)

	// ── 6. External clients ───────────────────────────────────────────────────
	priceFeed := feed.New(cfg, rdb, logger)
	bookClient := orderbook.NewClient(&cfg.OrderBook)

	// ── 7. WebSocket Hub ──────────────────────────────────────────────────────
	jwtSecret := []byte(cfg.Admin.JWTSecret)
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(jwtSecret, allowedOrigins)

	// ── 8. Engine manager + admin service ─────────────────────────────────────
	manager := engine.NewManager(cfg, tickStore, priceFeed, bookClient, hub, logger)
	adminSvc := service.NewAdminService(db, makerRepo, poolRepo, botRepo, historyRepo,
		tickStore, manager, priceFeed, cfg, logger)

	// ── 9. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 10. Start WS hub and engine ───────────────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")

	engineDone := make(chan error, 1)
	go func() { engineDone <- manager.Run(ctx) }()
	logger.Info("engine manager started")

	// ── 11. Scheduler ─────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(makerRepo, botRepo, manager, priceFeed, cfg, logger)
	sched.Start(ctx)

	// ── 12. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AdminSvc: adminSvc,
		Hub:      hub,
		Cfg:      cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 13. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	// Let runners finish their in-flight ticks before the DB goes away.
	select {
	case err = <-engineDone:
		if err != nil {
			logger.Error("engine stopped with error", "err", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("engine did not stop in time")
	}

	db.Close()
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("engine stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
