package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/internal/billing"
	"agency-billing/internal/config"
	"agency-billing/internal/migrate"
	"agency-billing/internal/pricing"
	"agency-billing/internal/usage"
	"agency-billing/pkg/logger"
	"agency-billing/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
)

// app is everything the commands touch. Tests build one from memory repos.
type app struct {
	dir     *accounts.Directory
	prices  *pricing.Service
	engine  *billing.Engine
	tokens  *auth.Manager
	usage   usage.Repository
	migrate func(ctx context.Context) ([]string, error)
	close   func()
}

type appFactory func(ctx context.Context) (*app, error)

// wireApp connects to Postgres. Scheduled runs skip the Redis gate: cron
// passes are manual triggers and the claim keeps them exactly-once anyway.
func wireApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: "billingctl", Writer: os.Stderr})
	slog.SetDefault(log)

	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, err
	}
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{ApplicationName: "billingctl", MaxOpenConns: cfg.Billing.SyncWorkers + 2, PingTimeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}

	dir := accounts.NewDirectory(accounts.NewPostgresRepo(db))
	prices := pricing.NewService(pricing.NewPostgresRepo(db), dir)
	usageRepo := usage.NewPostgresRepo(db)

	return &app{
		dir:    dir,
		prices: prices,
		engine: billing.NewEngine(billing.Deps{
			Usage:    usageRepo,
			Accounts: dir,
			Rates:    prices,
			Audit:    audit.NewService(audit.NewPostgresRepo(db)),
			Metrics:  billing.NewMetrics(prometheus.NewRegistry()),
			Workers:  cfg.Billing.SyncWorkers,
		}),
		tokens:  tokens,
		usage:   usageRepo,
		migrate: migrate.NewManager(db).Up,
		close:   func() { _ = db.Close() },
	}, nil
}
