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

	"settlement-crm/internal/audit"
	"settlement-crm/internal/auth"
	"settlement-crm/internal/calls"
	"settlement-crm/internal/campaigns"
	"settlement-crm/internal/config"
	"settlement-crm/internal/dialer"
	"settlement-crm/internal/httpapi"
	"settlement-crm/internal/metrics"
	"settlement-crm/internal/reporting"
	"settlement-crm/internal/telephony"
	"settlement-crm/pkg/logger"
	"settlement-crm/pkg/utils"

	"github.com/gin-gonic/gin"
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

	log := logger.New(cfg.App.Env, "crm-api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
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

	provider, err := newProvider(cfg.Telephony)
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}
	if err := provider.HealthCheck(rootCtx); err != nil {
		// Not fatal: the carrier may come back before the first call.
		log.Warn("telephony health check failed", "provider", provider.Name(), "err", err)
	}

	policy, err := dialer.LoadPolicy(cfg.Dialer.DispositionsFile)
	if err != nil {
		log.Error("disposition policy invalid", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	callStore := calls.NewPostgresStore(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	var lines dialer.LineLimiter
	if cfg.Dialer.MaxLinesPerCampaign > 0 {
		lines = dialer.NewRedisLineLimiter(rdb, cfg.Dialer.MaxLinesPerCampaign, cfg.Dialer.LineTTL)
	}

	engine, err := dialer.New(dialer.Config{
		Campaigns:         campaigns.NewPostgresRepo(db),
		Calls:             callStore,
		Provider:          provider,
		Policy:            policy,
		Lines:             lines,
		Audit:             auditSvc,
		Metrics:           m,
		Logger:            log,
		FromNumber:        cfg.Telephony.FromNumber,
		StatusCallbackURL: cfg.Telephony.StatusCallbackURL,
		ConnectTemplate:   cfg.Telephony.ConnectTemplate,
		AutoDisposition:   cfg.Dialer.AutoDisposition,
		SIDRetention:      cfg.Dialer.SIDRetention,
	})
	if err != nil {
		log.Error("dialer init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.GinMiddleware())

	h := httpapi.Handlers{
		Dialer:  engine,
		Reports: reporting.NewService(callStore, dialer.DispositionEnrolled),
		Audit:   auditSvc,
	}
	webhook := telephony.StatusCallbackHandler{Sink: engine}
	if cfg.Telephony.Provider == config.ProviderTwilio {
		webhook.AuthToken = cfg.Telephony.TwilioAuthToken
		webhook.PublicURL = cfg.Telephony.StatusCallbackURL
	}

	registerRoutes(r, routeDeps{
		Handlers: h,
		AuthMW:   auth.RequireAccessToken(authManager),
		Webhook:  webhook,
		Metrics:  m,
		Ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_sessions", engine.ActiveSessions(""))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func newProvider(cfg config.TelephonyConfig) (telephony.Provider, error) {
	switch cfg.Provider {
	case config.ProviderTwilio:
		return telephony.NewTwilioProvider(telephony.TwilioOptions{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			BaseURL:    cfg.TwilioBaseURL,
			Timeout:    cfg.RequestTimeout,
		})
	case config.ProviderSimulated:
		return telephony.NewSimulatedProvider(), nil
	default:
		return nil, errors.New("unknown telephony provider " + cfg.Provider)
	}
}
