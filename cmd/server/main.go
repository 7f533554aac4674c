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

	"storefront-core/config"
	"storefront-core/internal/api"
	"storefront-core/internal/broker"
	"storefront-core/internal/gateway"
	"storefront-core/internal/redisclient"
	"storefront-core/internal/service"
	"storefront-core/internal/store"
	"storefront-core/internal/util"
	"storefront-core/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront core")

	tp, err := util.InitTracer("storefront-core", cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	signer := gateway.NewSigner(gateway.Config{
		BaseURL:      cfg.Gateway.BaseURL,
		MerchantCode: cfg.Gateway.MerchantCode,
		HashSecret:   cfg.Gateway.HashSecret,
		ReturnURL:    cfg.Gateway.ReturnURL,
	})

	cartService := service.NewCartService(db, eventPublisher)
	paymentService := service.NewPaymentService(db, redisClient, signer, eventPublisher)
	checkoutService := service.NewCheckoutService(db, paymentService, eventPublisher)
	lifecycleService := service.NewLifecycleService(db, eventPublisher)
	reconciliationService := service.NewReconciliationService(db)
	stockService := service.NewStockService(db, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	coordinationWorker := worker.NewCoordinationWorker(paymentConsumer, lifecycleService)
	go func() {
		if err := coordinationWorker.Start(workerCtx); err != nil {
			log.Printf("Coordination worker error: %v", err)
		}
	}()

	sweeper := worker.NewReservationSweeper(
		db,
		redisClient,
		eventPublisher,
		time.Duration(cfg.Business.ReservationTTLSeconds)*time.Second,
		time.Duration(cfg.Business.SweepIntervalSeconds)*time.Second,
		cfg.Business.SweepBatchSize,
	)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Reservation sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(cartService, checkoutService, lifecycleService, paymentService, reconciliationService, stockService)
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

	workerCancel()
	coordinationWorker.Stop()

	log.Println("Server exited")
}
