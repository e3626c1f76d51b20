package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/credits-gateway/internal/auth"
	"github.com/nimasrn/credits-gateway/internal/config"
	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
	"github.com/nimasrn/credits-gateway/internal/handlers"
	"github.com/nimasrn/credits-gateway/internal/idempotency"
	"github.com/nimasrn/credits-gateway/internal/queue"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"github.com/nimasrn/credits-gateway/pkg/prom"
	"github.com/nimasrn/credits-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	if err := logger.Configure(cfg.LogEnv, cfg.LogLevel); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}
	logger.Info("starting credits api", "version", version, "commit", commit, "date", date)

	hostname, _ := os.Hostname()
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed creating metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.MetricsAddr, "/metrics")

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.CORSMiddleware(cfg.AppURL))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpTimeout))
	s.Use(xhttp.CompressMiddleware(6))
	s.Router = xhttp.CreateDefaultRouter()

	pgDebug := cfg.PostgresDebug || cfg.AppEnv == "dev"
	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	ctx := context.Background()
	redisAdap, err := redis.NewRedisAdapter(ctx, cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName,
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	// the api only publishes, the reconciler owns consumption
	failures, err := queue.NewQueue(ctx, redisAdap, queue.QueueConfig{
		Name:          cfg.ReconcileStream,
		ConsumerGroup: cfg.ReconcileGroup,
		MaxLen:        100000,
	})
	if err != nil {
		logger.Error("failed creating reconciliation queue", "error", err)
		return
	}

	guard := idempotency.NewGuard(redisAdap, idempotency.Config{
		LockTTL:      cfg.IdempotencyLockTTL,
		ProcessedTTL: cfg.IdempotencyProcessedTTL,
	})

	var paypal services.PayPalGateway
	if cfg.PayPalConfigured() {
		paypal = gateway.NewPayPalClient(gateway.PayPalConfig{
			BaseURL:      cfg.PayPalBaseURL(),
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			Timeout:      cfg.ProviderTimeout,
		})
	} else {
		logger.Warn("paypal credentials missing, paypal endpoints will answer 503")
	}

	var creem services.CreemGateway
	if cfg.CreemConfigured() {
		creem = gateway.NewCreemClient(gateway.CreemConfig{
			BaseURL: cfg.CreemAPIURL,
			APIKey:  cfg.CreemAPIKey,
			Timeout: cfg.ProviderTimeout,
		})
	} else {
		logger.Warn("creem api key missing, checkout will answer 503")
	}

	// repositories
	ledgerRepo := repository.NewLedgerRepository(db)
	reconciliationRepo := repository.NewReconciliationRepository(db)

	// services
	ledgerService := services.NewLedgerService(ledgerRepo)
	paymentService := services.NewPaymentService(ledgerService, paypal, creem, guard, failures, services.PaymentConfig{
		AppURL:        cfg.AppURL,
		BrandName:     cfg.PayPalBrandName,
		CreemProducts: cfg.CreemProducts(),
	})

	authenticator := auth.NewAuthenticator(cfg.AuthJWTSecret, cfg.AuthCookieName)
	if !authenticator.Enabled() {
		logger.Warn("AUTH_JWT_SECRET is empty, every request is anonymous")
	}

	// handlers
	creditsHandler := handlers.NewCreditsHandler(ledgerService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	checkoutHandler := handlers.NewCheckoutHandler(paymentService, cfg.CreemWebhookSecret)
	authHandler := handlers.NewAuthHandler()
	adminHandler := handlers.NewAdminHandler(ledgerService, reconciliationRepo, cfg.AdminAPIToken)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"postgres": db.Ping,
		"redis":    redisAdap.Ping,
	})

	handlers.RegisterHealthRoutes(s.Router, healthHandler)
	g := s.Router.Group("/api")
	handlers.RegisterCreditsRoutes(g, creditsHandler, authenticator.Required)
	handlers.RegisterPayPalRoutes(g, paymentHandler, authenticator.Optional)
	handlers.RegisterCheckoutRoutes(g, checkoutHandler, authenticator.Optional)
	handlers.RegisterAuthRoutes(g, authHandler, authenticator.Optional)
	handlers.RegisterAdminRoutes(g, adminHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
			c <- syscall.SIGTERM
		}
	}()

	<-c
	s.Shutdown()
	if err := failures.Stop(5 * time.Second); err != nil {
		logger.Error("error stopping reconciliation queue", "error", err)
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
