package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory-service/config"
	"inventory-service/internal/api"
	"inventory-service/internal/broker"
	"inventory-service/internal/identity"
	"inventory-service/internal/redisclient"
	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"
	"inventory-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting inventory service")

	tp, err := util.InitTracer("inventory-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}
	defer db.Close()
	logger.Info("Document store ready", zap.String("driver", cfg.Database.Driver))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	threshold := cfg.Business.LowStockThreshold
	loc := cfg.Business.Location()

	ledger := service.NewLedger(db, eventPublisher)
	checkout := service.NewCheckoutService(db, redisClient, eventPublisher, cfg.Business.CheckoutIdempotencyTTL())
	reports := service.NewReports(db, redisClient, threshold, loc)
	users := service.NewUserAdmin(db)

	ctx := context.Background()
	if cfg.Auth.BootstrapAdmin != "" {
		if err := users.EnsureAdmin(ctx, cfg.Auth.BootstrapAdmin); err != nil {
			log.Fatalf("Failed to bootstrap admin: %v", err)
		}
	}
	if _, err := reports.RefreshCache(ctx); err != nil {
		log.Printf("Failed to warm dashboard cache: %v", err)
	}

	sessions := service.NewSessionManager(db, users, threshold, loc)
	defer sessions.CloseAll()

	verifier := identity.NewVerifier(cfg.Auth.JWTSecret)
	verifier.OnChange(sessions.OnIdentityChange)

	dispatcher := service.NewDispatcher()
	service.RegisterCommands(dispatcher, ledger, checkout, users)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dashboardConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger, cfg.Kafka.ConsumerGroup+"-dashboard")
	dashboardWorker := worker.NewDashboardWorker(dashboardConsumer, reports)
	go func() {
		if err := dashboardWorker.Start(workerCtx); err != nil {
			log.Printf("Dashboard worker error: %v", err)
		}
	}()

	lowStockConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger, cfg.Kafka.ConsumerGroup+"-low-stock")
	lowStockWorker := worker.NewLowStockWorker(lowStockConsumer, db, threshold)
	go func() {
		if err := lowStockWorker.Start(workerCtx); err != nil {
			log.Printf("Low stock worker error: %v", err)
		}
	}()

	scheduler, err := worker.NewScheduler(loc, reports, ledger)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	scheduler.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(verifier, sessions, dispatcher, ledger, reports, users, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	scheduler.Stop()
	workerCancel()
	dashboardWorker.Stop()
	lowStockWorker.Stop()

	log.Println("Server exited")
}
