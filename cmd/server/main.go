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

	"purchase-service/config"
	"purchase-service/internal/api"
	"purchase-service/internal/broker"
	"purchase-service/internal/finance"
	"purchase-service/internal/inventory"
	"purchase-service/internal/redisclient"
	"purchase-service/internal/saga"
	"purchase-service/internal/store"
	"purchase-service/internal/util"
	"purchase-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "purchase-service"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting purchase service")

	tp, err := util.InitTracer("purchase-service", cfg.Observ.JaegerEndpoint)
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

	eventPublisher := broker.NewEventPublisher(
		broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPendingApproval),
		broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicApprovalDecision),
		broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLowStock),
		broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPurchaseCompleted),
		broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicFinanceApproved),
	)
	defer eventPublisher.Close()
	log.Println("Kafka producers initialized")

	engine := inventory.NewEngine(db, redisClient, eventPublisher, cfg.Business.ReservationTTL)

	gateway := finance.NewHTTPGateway(cfg.Collaborators.GatewayURL,
		cfg.Collaborators.ConnectTimeout, cfg.Collaborators.ReadTimeout)
	breaker := finance.NewCircuitBreaker(cfg.Business.BreakerFailureThreshold, cfg.Business.BreakerCooldown)
	correlator := finance.NewCorrelator(db, eventPublisher, gateway, breaker,
		cfg.Business.AutomationSource, cfg.Business.GatewayRetryAttempts)

	automation := finance.NewAutomation(finance.AutomationConfig{
		Enabled:         cfg.Business.AutoApproveEnabled,
		Threshold:       cfg.Business.ApprovalThreshold,
		ProcessingDelay: cfg.Business.AutomationDelay,
	}, cfg.Business.AutomationSource)

	collaborators := saga.NewHTTPCollaborators(cfg.Collaborators)
	coordinator := saga.NewCoordinator(
		engine,
		correlator,
		collaborators,
		collaborators.StoreLookup(),
		collaborators,
		collaborators,
		eventPublisher,
		cfg.Business.ApprovalPollInterval,
		cfg.Business.ApprovalWaitTimeout,
	)

	ctx := context.Background()
	if err := engine.SyncCache(ctx); err != nil {
		log.Printf("Failed to sync availability cache: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper := inventory.NewSweeper(engine, cfg.Business.SweepInterval)
	go sweeper.Run(workerCtx)

	decisionConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicApprovalDecision, cfg.Kafka.ConsumerGroup)
	decisionWorker := worker.NewDecisionWorker(decisionConsumer, correlator)
	go func() {
		if err := decisionWorker.Start(workerCtx); err != nil {
			log.Printf("Decision worker error: %v", err)
		}
	}()

	autoApprovalConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPendingApproval, "approval-automation-group")
	autoApprovalWorker := worker.NewAutoApprovalWorker(autoApprovalConsumer, automation, eventPublisher)
	go func() {
		if err := autoApprovalWorker.Start(workerCtx); err != nil {
			log.Printf("Auto-approval worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(coordinator, engine, correlator, automation, eventPublisher)
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
	decisionWorker.Stop()
	autoApprovalWorker.Stop()

	log.Println("Server exited")
}
