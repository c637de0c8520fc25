package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/internal/billing"
	"agency-billing/internal/config"
	"agency-billing/internal/httpapi"
	"agency-billing/internal/obs"
	"agency-billing/internal/pricing"
	"agency-billing/internal/reporting"
	"agency-billing/internal/session"
	"agency-billing/internal/usage"
	"agency-billing/internal/wallet"
	"agency-billing/pkg/logger"
	"agency-billing/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: "api"})
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{ApplicationName: "agency-billing-api"})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dir := accounts.NewDirectory(accounts.NewPostgresRepo(db))
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	usageRepo := usage.NewPostgresRepo(db)
	prices := pricing.NewService(pricing.NewPostgresRepo(db), dir)

	h := httpapi.Handlers{
		Accounts: dir,
		Rates:    prices,
		Sessions: session.NewManager(dir, authManager, auditSvc),
		Billing: billing.NewEngine(billing.Deps{
			Usage:    usageRepo,
			Accounts: dir,
			Rates:    prices,
			Audit:    auditSvc,
			Metrics:  billing.NewMetrics(reg),
			Gate:     billing.NewRedisGate(rdb, cfg.Billing.GateTTL),
			Workers:  cfg.Billing.SyncWorkers,
		}),
		Credits: wallet.NewService(wallet.NewPostgresStore(db), dir, auditSvc),
		Reports: reporting.NewService(usageRepo, dir),
		Audit:   auditSvc,
	}

	health := func(ctx context.Context) error {
		if err := utils.PingPostgres(ctx, db, 2*time.Second); err != nil {
			return err
		}
		return utils.PingRedis(ctx, rdb, time.Second)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(obs.NewHTTPMetrics(reg).Middleware())
	r.Use(httpapi.ClientIP())

	registerRoutes(r, routeDeps{
		handlers: h,
		authMW:   auth.RequireSession(authManager),
		limiter:  httpapi.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		health:   health,
		metrics:  reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Sync passes over large scopes can run long.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

}
