package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/adapter"
	"github.com/rightside-club/service-discount/internal/adapter/smartshell"
	"github.com/rightside-club/service-discount/internal/application"
	"github.com/rightside-club/service-discount/internal/config"
	"github.com/rightside-club/service-discount/internal/events"
	"github.com/rightside-club/service-discount/internal/handler"
	"github.com/rightside-club/service-discount/internal/metrics"
	"github.com/rightside-club/service-discount/internal/pkg/database"
	"github.com/rightside-club/service-discount/internal/pkg/health"
	"github.com/rightside-club/service-discount/internal/pkg/kafka"
	"github.com/rightside-club/service-discount/internal/pkg/logger"
	"github.com/rightside-club/service-discount/internal/pkg/middleware"
	"github.com/rightside-club/service-discount/internal/repository"
	"github.com/rightside-club/service-discount/internal/scheduler"
)

// billingHealth adapts the billing status snapshot to the readiness probe.
type billingHealth struct {
	billing adapter.BillingAdapter
}

func (b billingHealth) Healthy() bool { return b.billing.Status().OK }

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, "service-discount")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting service-discount",
		zap.String("port", cfg.Port),
		zap.Duration("tick_interval", cfg.Scheduler.TickInterval),
	)

	// Connect to database
	db, err := database.Connect(cfg.DB.DSN(), zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.JobModel{}, &repository.PrincipalModel{}, &repository.InviteModel{}); err != nil {
			zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		zapLogger.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(cfg.DB.URL(), "migrations", zapLogger); err != nil {
			zapLogger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers, zapLogger)
	defer kafkaProducer.Close()

	// Initialize billing adapter
	var billing adapter.BillingAdapter
	if cfg.SmartShell.UseMock {
		zapLogger.Warn("using mock billing adapter")
		billing = adapter.NewMockBillingAdapter(zapLogger)
	} else {
		billing = smartshell.New(func() smartshell.Settings {
			return smartshell.Settings{
				Endpoint:    cfg.SmartShell.Endpoint,
				AuthMode:    cfg.SmartShell.AuthMode,
				Login:       cfg.SmartShell.Login,
				Password:    cfg.SmartShell.Password,
				BearerToken: cfg.SmartShell.BearerToken,
				CompanyID:   cfg.SmartShell.CompanyID,
			}
		}, zapLogger)
	}

	// Initialize repositories
	jobRepo := repository.NewGormJobRepository(db)
	accessRepo := repository.NewGormAccessRepository(db)

	// Initialize metrics and the scheduler
	m := metrics.New()
	discountScheduler := scheduler.New(jobRepo, billing, kafkaProducer, m, zapLogger, cfg.Scheduler.TickInterval)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	go discountScheduler.Run(schedulerCtx)

	// Initialize application services
	discountService := application.NewDiscountService(discountScheduler, jobRepo, billing, zapLogger)
	accessService := application.NewAccessService(accessRepo, kafkaProducer, zapLogger)
	clientService := application.NewClientService(billing, discountScheduler, zapLogger)

	// Start the event feed consumer
	feedConsumer := events.NewFeedConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupPrefix+"discount-feed", zapLogger)
	defer feedConsumer.Close()

	go func() {
		if err := feedConsumer.Start(schedulerCtx); err != nil {
			if schedulerCtx.Err() == nil {
				zapLogger.Error("feed consumer failed", zap.Error(err))
			}
		}
	}()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.Recovery(zapLogger))
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())

	// Register health and metrics routes
	healthHandler := health.NewHandler(db, billingHealth{billing}, "service-discount")
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Register API routes
	discountHandler := handler.NewDiscountHandler(discountService)
	accessHandler := handler.NewAccessHandler(accessService)
	clientHandler := handler.NewClientHandler(clientService)
	adminHandler := handler.NewAdminHandler(discountService, clientService)

	apiV1 := router.Group("/api/v1")
	accessHandler.RegisterPublicRoutes(apiV1)

	authenticated := apiV1.Group("")
	authenticated.Use(middleware.ActorAuth(accessService.FindPrincipal, zapLogger))
	discountHandler.RegisterRoutes(authenticated)
	accessHandler.RegisterRoutes(authenticated)
	clientHandler.RegisterRoutes(authenticated)
	adminHandler.RegisterRoutes(authenticated)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down service-discount...")

	// Stop the scheduler and the feed consumer
	schedulerCancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("service-discount stopped")
}
