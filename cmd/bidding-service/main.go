package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bidding-engine/internal/api/handlers"
	"bidding-engine/internal/config"
	"bidding-engine/internal/domain"
	"bidding-engine/internal/infrastructure/leader"
	"bidding-engine/internal/infrastructure/mysql"
	storeRedis "bidding-engine/internal/infrastructure/redis"
	ws "bidding-engine/internal/infrastructure/websocket"
	"bidding-engine/internal/services"
	"bidding-engine/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	log := logger.New()
	log.Info("Starting bidding service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatal("Failed to open MySQL", "error", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("Failed to ping MySQL", "error", err)
	}
	log.Info("Connected to MySQL")

	// Storage and infrastructure
	store := mysql.NewStore(db, cfg.Bidding.LockWait)
	schedulerRepo := mysql.NewSchedulerRepository(db)
	eventPublisher := storeRedis.NewEventPublisher(rdb)
	eventSubscriber := storeRedis.NewEventSubscriber(rdb, log)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	// Increment brackets
	increments := services.NewIncrementRuleDao(rdb)
	if err := increments.LoadRules(ctx); err != nil {
		log.Fatal("Failed to load increment brackets", "error", err)
	}

	// Live notifications
	connManager := ws.NewConnectionManager(log)
	notifier := ws.NewNotifier(connManager)

	clock := services.SystemClock{}

	// Core services
	lifecycle := services.NewAuctionLifecycle(store, increments, notifier,
		eventPublisher, clock, cfg.Bidding.SnipeExtension, log)

	scheduler := services.NewCronCloseScheduler(schedulerRepo, lifecycle,
		leaderElection, cfg.Instance.ID, log)
	lifecycle.SetScheduler(scheduler)

	engine := services.NewBidEngine(store, increments, notifier,
		eventPublisher, clock, log)
	engine.SetExtender(lifecycle)

	retractions := services.NewRetractionWorkflow(store, eventPublisher, clock,
		cfg.Bidding.RetractionCutoff, cfg.Bidding.AdminIDs, log)

	// Background workers
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if _, err := leaderElection.BecomeLeader(runCtx, cfg.Instance.ID); err != nil {
		log.Error("Leader election failed, continuing as follower", "error", err)
	}
	if err := scheduler.Start(runCtx); err != nil {
		log.Fatal("Failed to start scheduler", "error", err)
	}
	defer scheduler.Stop()

	// Bridge cross-instance bid events to local websocket watchers.
	go func() {
		err := eventSubscriber.SubscribeToBidEvents(runCtx, func(event *domain.BidEvent) error {
			return connManager.BroadcastToListing(event.ListingID, event)
		})
		if err != nil && runCtx.Err() == nil {
			log.Error("Event subscription ended", "error", err)
		}
	}()

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	biddingHandler := handlers.NewBiddingHandler(engine, retractions, lifecycle, log)
	biddingHandler.Register(e.Group("/api/v1"))

	wsHandler := handlers.NewWebSocketHandler(store, connManager, log)
	e.GET("/ws", wsHandler.HandleConnection)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "bidding-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server stopped", "error", err)
		}
	}()
	log.Info("Bidding service listening", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	stop()
	if err := leaderElection.ReleaseLeadership(context.Background(), cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
}
