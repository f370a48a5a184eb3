package http

import (
	"context"
	"time"

	"tola_ledger/internal/http/handlers"
	"tola_ledger/internal/http/middleware"
	"tola_ledger/internal/service"
	"tola_ledger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
)

// Limits are per-identity request budgets for the API.
type Limits struct {
	API        int
	APIWindow  time.Duration
	Auth       int
	AuthWindow time.Duration
}

// Deps is everything the router needs.
type Deps struct {
	Services handlers.Services
	Options  handlers.Options
	// Store is pinged by the health endpoints.
	Store handlers.Pinger
	// Redis backs request limiting when set; nil uses in-process limits.
	Redis         *redis.Client
	Hub           *ws.Hub
	Limits        Limits
	AllowedOrigin string
	Version       string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	h := handlers.NewHandler(d.Services, d.Options)

	checks := map[string]handlers.Pinger{"database": d.Store}
	if d.Redis != nil {
		checks["redis"] = redisPinger{d.Redis}
	}
	healthHandler := handlers.NewHealthHandler(checks, d.Version)

	limits := d.Limits
	if limits.API <= 0 {
		limits.API = 120
	}
	if limits.APIWindow <= 0 {
		limits.APIWindow = time.Minute
	}
	if limits.Auth <= 0 {
		limits.Auth = 10
	}
	if limits.AuthWindow <= 0 {
		limits.AuthWindow = time.Minute
	}

	r.Use(middleware.RequestLogger(), middleware.Metrics())

	// Health checks (no rate limiting)
	r.GET("/health", healthHandler.Health)
	r.GET("/health/live", healthHandler.Liveness)
	r.GET("/health/ready", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.Hub != nil {
		r.GET("/ws", ws.HandleWS(d.Hub, d.Services.Tokens, d.AllowedOrigin))
	}

	jwt := middleware.JWT(d.Services.Tokens)

	v1 := r.Group("/api/v1")
	v1.POST("/auth", middleware.RateLimit(d.Redis, "auth", limits.Auth, limits.AuthWindow), h.Auth)
	v1.GET("/rules", h.ListRules)
	v1.GET("/milestone", h.MilestoneStatus)
	v1.GET("/conversions/quote", h.QuoteConversion)

	// Upstream services report qualifying events. Not rate limited per IP;
	// issuance is bounded by the daily windows.
	v1.POST("/events", jwt, middleware.RequireRole(service.RoleService, service.RoleAdmin), h.FireEvent)

	user := v1.Group("")
	user.Use(jwt, middleware.RateLimit(d.Redis, "api", limits.API, limits.APIWindow))
	{
		user.GET("/wallet", h.GetWallet)
		user.GET("/wallet/entries", h.WalletEntries)
		user.POST("/wallet/connect", h.ConnectWallet)
		user.POST("/wallet/transfer", h.Transfer)

		user.GET("/distributions", h.ListDistributions)

		user.POST("/conversions", h.RequestConversion)
		user.GET("/conversions/status", h.ConversionStatus)
		user.GET("/conversions/history", h.ConversionHistory)
		user.GET("/conversions/:id", h.GetConversion)
	}

	admin := v1.Group("/reports")
	admin.Use(jwt, middleware.RequireRole(service.RoleAdmin))
	{
		admin.POST("", h.GenerateReport)
		admin.GET("/:type", h.ListReports)
		admin.GET("/:type/:period", h.GetReport)
	}
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
