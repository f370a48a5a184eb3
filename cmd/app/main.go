package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tola_ledger/internal/bootstrap"
	"tola_ledger/internal/bot"
	"tola_ledger/internal/config"
	"tola_ledger/internal/domain"
	httpServer "tola_ledger/internal/http"
	"tola_ledger/internal/http/handlers"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/service"
	"tola_ledger/internal/ws"

	"github.com/gin-gonic/gin"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, true)
	if err != nil {
		logger.Fatal("startup failed", "error", err)
	}
	defer app.Close()

	hub := ws.NewHub()
	app.Publish(hub)

	if cfg.BotToken != "" {
		adminBot, err := bot.NewAdminBot(cfg.BotToken, bot.Services{
			Ledger:      app.Ledger,
			Milestone:   app.Milestone,
			Conversions: app.Conversions,
			Accounting:  app.Accounting,
		}, cfg.AdminIDs, cfg.AdminChatID)
		if err != nil {
			logger.Error("admin bot disabled", "error", err)
		} else {
			app.Milestone.AddNotifier(adminBot)
			app.Conversions.AddAlerter(adminBot)
			go adminBot.Start(ctx)
		}
	}

	go maintenance(ctx, app)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors(cfg.AllowedOrigin))

	httpServer.RegisterRoutes(r, httpServer.Deps{
		Services: handlers.Services{
			Ledger:      app.Ledger,
			Incentives:  app.Incentives,
			Milestone:   app.Milestone,
			Conversions: app.Conversions,
			Accounting:  app.Accounting,
			Tokens:      app.Tokens,
		},
		Options: handlers.Options{
			BotToken:    cfg.BotToken,
			ProofDomain: cfg.TonProofDomain,
		},
		Store: app.Store,
		Redis: app.Redis,
		Hub:   hub,
		Limits: httpServer.Limits{
			API:        cfg.APIRateLimit,
			APIWindow:  cfg.APIRateWindow,
			Auth:       cfg.AuthRateLimit,
			AuthWindow: cfg.AuthRateWindow,
		},
		AllowedOrigin: cfg.AllowedOrigin,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "store", cfg.StoreDriver, "settlement", cfg.Settlement.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Settlement.Timeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exited")
}

// maintenance finishes conversions orphaned by a crash and keeps the
// previous day's report current.
func maintenance(ctx context.Context, app *bootstrap.App) {
	log := logger.With("component", "maintenance")
	olderThan := app.Conversions.MinRecoveryAge()

	run := func() {
		stats, err := app.Conversions.RecoverPending(ctx, olderThan)
		if err != nil {
			log.Error("recover pending conversions", "error", err)
		} else if stats.Scanned > 0 {
			log.Info("recovered pending conversions", "scanned", stats.Scanned, "completed", stats.Completed, "failed", stats.Failed, "errors", stats.Errors)
		}

		period := service.PreviousPeriod(domain.ReportDaily, time.Now())
		if _, err := app.Accounting.GetReport(ctx, domain.ReportDaily, period); errors.Is(err, domain.ErrNotFound) {
			if _, err := app.Accounting.GenerateReport(ctx, domain.ReportDaily, period); err != nil {
				log.Error("generate daily report", "period", period, "error", err)
			}
		}
	}

	run()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func cors(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowedOrigin == "" || origin == allowedOrigin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
