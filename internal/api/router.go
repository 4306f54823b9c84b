package api

import (
	"net/http"

	"github.com/evetabi/marketmaker/internal/api/handler"
	"github.com/evetabi/marketmaker/internal/api/middleware"
	"github.com/evetabi/marketmaker/internal/config"
	"github.com/evetabi/marketmaker/internal/service"
	"github.com/evetabi/marketmaker/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AdminSvc *service.AdminService
	Hub      *ws.Hub
	Cfg      *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		resp := gin.H{"status": "ok"}
		if deps.AdminSvc != nil {
			resp["feeds"] = deps.AdminSvc.FeedHealth()
		}
		c.JSON(http.StatusOK, resp)
	})

	// ── Prometheus metrics ───────────────────────────────────────────────────
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	mmH := handler.NewMarketMakerHandler(deps.AdminSvc)
	botH := handler.NewBotHandler(deps.AdminSvc)
	histH := handler.NewHistoryHandler(deps.AdminSvc)

	// ── Admin JWT middleware (shared) ─────────────────────────────────────────
	jwtMW := middleware.AdminJWTMiddleware([]byte(deps.Cfg.Admin.JWTSecret))

	// ── Rate limiters ─────────────────────────────────────────────────────────
	writeRL := middleware.RateLimitMiddleware(10) // 10 req/s per IP for mutations
	readRL := middleware.RateLimitMiddleware(30)  // 30 req/s per IP for reads

	api := r.Group("/api")
	api.Use(jwtMW)
	{
		makers := api.Group("/market-makers")
		{
			// ── Reads ────────────────────────────────────────────────────────
			reads := makers.Group("")
			reads.Use(readRL)
			{
				reads.GET("", mmH.List)
				reads.GET("/:id", mmH.Get)
				reads.GET("/:id/status", mmH.Status)
				reads.GET("/:id/bots", botH.List)
				reads.GET("/:id/history", histH.List)
			reads.GET("/:id/history/stats", histH.Stats)
			}

			// ── Mutations ────────────────────────────────────────────────────
			writes := makers.Group("")
			writes.Use(writeRL)
			{
				writes.POST("", mmH.Create)
				writes.DELETE("/:id", mmH.Delete)
				writes.PATCH("/:id/config", mmH.UpdateConfig)
				writes.PUT("/:id/bias", mmH.SetBias)

				writes.POST("/:id/start", mmH.Start)
				writes.POST("/:id/stop", mmH.Stop)
				writes.POST("/:id/pause", mmH.Pause)
				writes.POST("/:id/resume", mmH.Resume)
				writes.POST("/:id/emergency-stop", mmH.EmergencyStop)

				writes.POST("/:id/pool/deposit", mmH.Deposit)
				writes.POST("/:id/pool/withdraw", mmH.Withdraw)
				writes.POST("/:id/pool/rebalance", mmH.Rebalance)

				writes.POST("/:id/bots", botH.Create)
				writes.PUT("/:id/bots/:botID", botH.Update)
				writes.DELETE("/:id/bots/:botID", botH.Delete)
				writes.POST("/:id/bots/:botID/reset-performance", botH.ResetPerformance)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Production: allow only the operator dashboard origins
			allowed := map[string]bool{
				"https://mm.evetabi.com":        true,
				"https://dashboard.evetabi.com": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
