package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/leadpilot-ai/platform/pkg/automation"
	"github.com/leadpilot-ai/platform/pkg/common/config"
	"github.com/leadpilot-ai/platform/pkg/common/database"
	"github.com/leadpilot-ai/platform/pkg/common/kafka"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	gatewayauth "github.com/leadpilot-ai/platform/pkg/gateway/auth"
	"github.com/leadpilot-ai/platform/pkg/gateway/httpclient"
	"github.com/leadpilot-ai/platform/pkg/gateway/middleware"
	"github.com/leadpilot-ai/platform/pkg/gateway/routes"
	"github.com/leadpilot-ai/platform/pkg/identity"
	"github.com/leadpilot-ai/platform/pkg/observability/metrics"
	"github.com/leadpilot-ai/platform/pkg/progress"
	"github.com/leadpilot-ai/platform/pkg/reconcile"
	"github.com/leadpilot-ai/platform/pkg/retry"
	"github.com/leadpilot-ai/platform/pkg/scrape"
)

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	identityRepo := identity.NewRepository(db)
	if err := identityRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate identity tables")
	}
	scrapeRepo := scrape.NewRepository(db)
	if err := scrapeRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate scrape tables")
	}

	tokenSigner, err := gatewayauth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build jwt manager")
	}

	oidcAuth, err := gatewayauth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
	if err != nil {
		logger.Log.WithError(err).Warn("OIDC SSO not configured, password login only")
	}

	templates, err := automation.LoadTemplates(cfg.OutreachTemplatesPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to default outreach templates")
	}
	automationClient := automation.NewClient(
		cfg.AutomationWebhookURL,
		cfg.AutomationSecret,
		automation.WithHTTPClient(httpclient.New(cfg.AutomationTimeout)),
		automation.WithTemplates(templates),
	)

	scrapeProducer := kafka.NewProducer(cfg.ScrapeEventTopic)
	defer scrapeProducer.Close()
	batchProducer := kafka.NewProducer(cfg.BatchEventTopic)
	defer batchProducer.Close()
	progressCache := progress.NewCache(database.GetRedis(), cfg.ProgressCacheTTL)

	identityService := identity.NewService(identityRepo)
	scrapeService := scrape.NewService(scrapeRepo, scrapeProducer, batchProducer, progressCache)
	retryService := retry.NewService(scrapeRepo, automationClient)
	reconcileService := reconcile.NewService(scrapeRepo, progressCache, cfg.StaleThreshold)

	authHandler := routes.NewAuthHandler(identityService, tokenSigner, oidcAuth)
	scrapeHandler := scrape.NewHandler(scrapeService)
	retryHandler := retry.NewHandler(retryService)
	reconcileHandler := reconcile.NewHandler(reconcileService)

	router := mux.NewRouter()
	router.Use(middleware.CORS, middleware.Logging, middleware.Recovery)
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	hooks := router.PathPrefix("/api/v1/hooks").Subrouter()
	hooks.Use(middleware.RequireWebhookSecret(cfg.WebhookSecret))
	scrapeHandler.RegisterHooks(hooks)

	auth := router.PathPrefix("/api/v1/auth").Subrouter()
	authHandler.Register(auth)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Authenticate(tokenSigner))
	// Static paths first so "stale"/"complete" never parse as batch ids.
	reconcileHandler.Register(api)
	retryHandler.Register(api)
	scrapeHandler.RegisterOperator(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.RelayPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("relay service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start relay service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down relay service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("relay service forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("failed to close redis")
	}
	logger.Log.Info("relay service stopped")
}
