package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"braze-etl/internal/client"
	"braze-etl/internal/config"
	"braze-etl/internal/handlers"
	"braze-etl/internal/recon"
	"braze-etl/internal/schema"
	"braze-etl/internal/transformer"
	"braze-etl/internal/warehouse"
)

func main() {
	dateFlag := flag.String("date", "", "run a one-shot reconciliation for this date (YYYY-MM-DD) and exit")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.Info("Starting Braze ETL service")

	tables, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load table schemas")
	}

	ctx := context.Background()
	wh, err := warehouse.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to BigQuery")
	}
	defer wh.Close()

	// Initialize components
	brazeClient := client.NewBrazeClient(cfg, logger)
	norm := transformer.New(logger)
	driver := recon.NewDriver(brazeClient, wh, norm, cfg, tables, logger)

	// One-shot backfill mode for manual reruns of a missed date.
	if *dateFlag != "" {
		day, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			logger.WithField("date", *dateFlag).Fatal("Invalid date, use YYYY-MM-DD")
		}
		if err := driver.Run(ctx, day); err != nil {
			logger.WithError(err).WithField("date", *dateFlag).Error("Reconciliation failed")
			os.Exit(1)
		}
		logger.WithField("date", *dateFlag).Info("Reconciliation finished")
		return
	}

	// Initialize handlers
	handler := handlers.New(driver, logger)

	// Setup Gin router
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Health endpoints
	router.GET("/healthz", handler.HealthCheck)
	router.GET("/readyz", handler.ReadinessCheck)

	// Job trigger endpoints, invoked by the scheduler
	router.POST("/sync/daily", handler.RunDailySync)
	router.POST("/reconcile/run", handler.RunReconciliation)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
