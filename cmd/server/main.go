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
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/healthadvisor/server/internal/api"
	"github.com/healthadvisor/server/internal/auth"
	"github.com/healthadvisor/server/internal/chat"
	"github.com/healthadvisor/server/internal/config"
	"github.com/healthadvisor/server/internal/db"
	"github.com/healthadvisor/server/internal/health"
	"github.com/healthadvisor/server/internal/llm"
	"github.com/healthadvisor/server/internal/logging"
	"github.com/healthadvisor/server/internal/ratelimit"
	"github.com/healthadvisor/server/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logging: failed to initialise: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	postgres, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("postgres: failed to connect", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.Ping(ctx); err != nil {
		logger.Fatal("postgres: ping failed", zap.Error(err))
	}
	if err := postgres.EnsureSchema(ctx); err != nil {
		logger.Fatal("postgres: ensure schema failed", zap.Error(err))
	}

	mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
	if err != nil {
		logger.Fatal("mongo: failed to connect", zap.Error(err))
	}
	defer func() {
		if err := mongoStore.Close(context.Background()); err != nil {
			logger.Warn("mongo: close error", zap.Error(err))
		}
	}()

	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		logger.Fatal("mongo: ensure indexes failed", zap.Error(err))
	}

	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		redisClient, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Fatal("redis: failed to connect", zap.Error(err))
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.Redis.RateLimit, cfg.Redis.RateWindow)
	} else {
		logger.Info("redis not configured, chat rate limiting disabled")
	}

	users := db.NewUserRepository(postgres)
	authService, err := auth.NewService(cfg.JWTSecret, 24*time.Hour, users)
	if err != nil {
		logger.Fatal("auth: failed to initialise", zap.Error(err))
	}

	conversations := store.NewConversationStore(mongoStore)
	healthRecords := health.NewMongoProvider(mongoStore)
	assembler := health.NewContextAssembler(healthRecords, logger)
	gateway := llm.NewGateway(cfg.LLM, logger)

	orchestrator := chat.NewOrchestrator(conversations, assembler, gateway, chat.Options{
		HistoryLimit:      cfg.Chat.HistoryLimit,
		HealthRecordLimit: cfg.Chat.HealthRecordLimit,
		MaxTokens:         cfg.LLM.MaxTokens,
	}, logger)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api.NewHandler(authService, orchestrator, healthRecords, authService, limiter, logger).RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}
