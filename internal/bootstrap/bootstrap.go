// Package bootstrap assembles stores and services from configuration. The
// API server and the ledgerctl tool share it.
package bootstrap

import (
	"context"
	"fmt"

	"tola_ledger/internal/config"
	"tola_ledger/internal/db"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/repository"
	"tola_ledger/internal/repository/memory"
	"tola_ledger/internal/repository/redisstore"
	"tola_ledger/internal/repository/sqlite"
	"tola_ledger/internal/service"
	"tola_ledger/internal/settlement"
	"tola_ledger/internal/ton"

	redis "github.com/redis/go-redis/v9"
)

// App holds the wired services.
type App struct {
	Cfg   *config.Config
	Store repository.Store
	// Redis is nil unless REDIS_ADDR is set and reachable.
	Redis *redis.Client

	Ledger      *service.LedgerService
	Limiter     *service.RateLimiter
	Milestone   *service.MilestoneService
	Incentives  *service.IncentiveService
	Conversions *service.ConversionService
	Accounting  *service.AccountingService
	Tokens      *service.TokenIssuer
}

// OpenStore connects the configured storage driver. Postgres schemas are
// migrated when migrate is set; sqlite migrates on open.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool) (repository.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := repository.NewPGStore(pool)
		if migrate {
			applied, err := store.Migrate(ctx)
			if err != nil {
				store.Close()
				return nil, err
			}
			logger.Info("migrations applied", "files", applied)
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		logger.Warn("using in-memory store; state is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewSettler returns the settlement collaborator for the configured mode.
func NewSettler(cfg config.SettlementConfig) (settlement.Settler, error) {
	switch cfg.Mode {
	case "simulated", "":
		return settlement.NewSimulated(cfg.FailRate, 0), nil
	case "ton":
		return ton.NewPayoutClient(cfg.PayoutURL, ton.Network(cfg.TonNetwork), cfg.TonAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown settlement mode %q", cfg.Mode)
	}
}

// New opens storage and wires every service.
func New(ctx context.Context, cfg *config.Config, migrate bool) (*App, error) {
	store, err := OpenStore(ctx, cfg, migrate)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app := &App{Cfg: cfg, Store: store}

	var windows repository.RateLimitRepository = store
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// keep serving on the database windows
			logger.Warn("redis unavailable, using store rate limit windows", "error", err)
		} else {
			app.Redis = rdb
			windows = redisstore.New(rdb, "")
		}
	}

	settler, err := NewSettler(cfg.Settlement)
	if err != nil {
		app.Close()
		return nil, err
	}

	tokens, err := service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Tokens = tokens

	rules := cfg.Incentive.Rules.Rules
	app.Ledger = service.NewLedgerService(store)
	app.Limiter = service.NewRateLimiter(windows, cfg.Incentive.DailyCap, cfg.Conversion.DailyCap)
	app.Milestone = service.NewMilestoneService(store, store, service.QualifyingRuleIDs(rules), cfg.Milestone.Threshold)
	if _, err := app.Milestone.Init(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("init milestone: %w", err)
	}
	app.Incentives = service.NewIncentiveService(rules, app.Ledger, app.Limiter, store, app.Milestone)
	app.Conversions = service.NewConversionService(service.ConversionPolicy{
		MinAmount:            cfg.Conversion.MinAmount,
		MaxAmount:            cfg.Conversion.MaxAmount,
		FeeRate:              cfg.Conversion.FeeRate,
		ExchangeRate:         cfg.Conversion.ExchangeRate,
		Currency:             cfg.Conversion.Currency,
		SettleTimeout:        cfg.Settlement.Timeout,
		RefundLimitOnFailure: cfg.Conversion.RefundLimitOnFailure,
	}, app.Ledger, store, store, app.Limiter, app.Milestone, settler)
	app.Accounting = service.NewAccountingService(store)
	return app, nil
}

// Publish routes service events to p.
func (a *App) Publish(p service.Publisher) {
	a.Milestone.SetPublisher(p)
	a.Incentives.SetPublisher(p)
	a.Conversions.SetPublisher(p)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}
}
