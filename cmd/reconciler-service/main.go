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
	"github.com/leadpilot-ai/platform/pkg/common/config"
	"github.com/leadpilot-ai/platform/pkg/common/database"
	"github.com/leadpilot-ai/platform/pkg/common/kafka"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/leadpilot-ai/platform/pkg/observability/metrics"
	"github.com/leadpilot-ai/platform/pkg/progress"
	"github.com/leadpilot-ai/platform/pkg/reconcile"
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

	scrapeRepo := scrape.NewRepository(db)
	progressCache := progress.NewCache(database.GetRedis(), cfg.ProgressCacheTTL)
	reconcileService := reconcile.NewService(scrapeRepo, progressCache, cfg.StaleThreshold)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Change events on either feed wake the detector between ticks: scrape
	// outcomes move the counters, batch events move the status.
	notify := make(chan struct{}, 1)
	wake := func(ctx context.Context, event models.Event) error {
		select {
		case notify <- struct{}{}:
		default:
		}
		return nil
	}
	for _, topic := range []string{cfg.ScrapeEventTopic, cfg.BatchEventTopic} {
		consumer := kafka.NewConsumer(topic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func(c *kafka.Consumer, topic string) {
			if err := c.Consume(ctx, wake); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).WithField("topic", topic).Error("event consumer stopped")
			}
		}(consumer, topic)
	}

	detector := reconcile.NewDetector(reconcileService, cfg.StaleScanInterval, notify)
	go detector.Run(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ReconcilerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("reconciler service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start reconciler service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down reconciler service...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("reconciler service forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("failed to close redis")
	}
	logger.Log.Info("reconciler service stopped")
}
