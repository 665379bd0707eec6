package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"telecom-domainselection/internal/audit"
	"telecom-domainselection/internal/auth"
	"telecom-domainselection/internal/carrier"
	"telecom-domainselection/internal/carrierconfig"
	"telecom-domainselection/internal/config"
	"telecom-domainselection/internal/httpapi"
	"telecom-domainselection/internal/modem"
	"telecom-domainselection/internal/registry"
	"telecom-domainselection/pkg/logger"
	"telecom-domainselection/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnvFile(); err != nil {
		slog.Error("env file load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var (
		policyRepo carrier.Repository = carrier.NewMemoryRepo()
		auditRepo  audit.Repository   = audit.NewMemoryRepo()
		db         *sql.DB
	)
	if cfg.DB.Enabled {
		db, err = utils.OpenPostgres(rootCtx, utils.PostgresConfig{
			DSN:    cfg.PostgresDSN(),
			Schema: []string{carrier.Schema, audit.Schema},
		})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		policyRepo = carrier.NewPostgresRepo(db)
		auditRepo = audit.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST unset, carrier policies and audit events are kept in memory")
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var auditSvc *audit.Service
	if cfg.Selection.AuditEnabled {
		auditSvc = audit.NewService(auditRepo)
	}

	bridge := modem.NewBridge(cfg.Selection.SlotCount, log)
	reg, err := registry.New(rootCtx, registry.Deps{
		Ims:       bridge,
		Scanner:   bridge,
		Sims:      bridge,
		Numbers:   bridge,
		Settings:  bridge,
		Carrier:   carrier.NewService(policyRepo, log),
		VoNrStore: carrierconfig.NewRedisStore(rdb, cfg.Selection.VoNrKeyPrefix),
		Audit:     auditSvc,
	}, registry.Options{
		SlotCount:              cfg.Selection.SlotCount,
		WaitForImsStateTimeout: cfg.Selection.WaitForImsStateTimeout,
		ImsUnavailableGrace:    cfg.Selection.ImsUnavailableGrace,
	}, log)
	if err != nil {
		log.Error("registry init failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.NewHandlers(reg, bridge, auditSvc)
	r := newRouter(log, h, auth.RequireAccessToken(authManager), db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("dsd listening", "addr", srv.Addr, "env", cfg.App.Env, "slots", cfg.Selection.SlotCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Selection.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Selectors still open are released here; their queues drain before Close returns.
	if err := reg.Close(shutdownCtx); err != nil {
		log.Error("registry close failed", "err", err)
	}
}
