package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatif-server/internal/config"
	"whatif-server/internal/coordination"
	"whatif-server/internal/handler"
	"whatif-server/internal/llm"
	"whatif-server/internal/logger"
	"whatif-server/internal/messaging"
	"whatif-server/internal/middleware"
	"whatif-server/internal/prompt"
	"whatif-server/internal/repository"
	"whatif-server/internal/service"
	"whatif-server/internal/utils"
	"whatif-server/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

const (
	connectAttempts   = 30
	connectRetryDelay = 2 * time.Second
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogFormat, Service: "whatif-server", Env: cfg.Env})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	zap.L().Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("dispatchMode", cfg.DispatchMode),
		zap.String("coordinationBackend", cfg.CoordinationBackend),
		zap.Duration("pollWaitWindow", cfg.PollWaitWindow),
		zap.Duration("taskTTL", cfg.TaskTTL),
	)

	// --- Durable Message Store ---
	startupCtx, startupCancel := context.WithTimeout(context.Background(), time.Duration(connectAttempts)*(connectRetryDelay+5*time.Second))
	defer startupCancel()

	zap.L().Info("Connecting to PostgreSQL", zap.String("dsn", utils.MaskURL(cfg.GetDSN())))
	dbPool, err := repository.NewPool(startupCtx, repository.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
		MaxAttempts: connectAttempts,
		RetryDelay:  connectRetryDelay,
	}, log)
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()

	if err := repository.ApplyMigrations(dbPool, log); err != nil {
		zap.L().Fatal("Failed to apply migrations", zap.Error(err))
	}

	messageRepo := repository.NewPgMessageRepository(dbPool, log)
	conversationRepo := repository.NewPgConversationRepository(dbPool, log)

	// --- Coordination Store ---
	store, closeStore, err := setupCoordinationStore(startupCtx, cfg, log)
	if err != nil {
		zap.L().Fatal("Failed to set up coordination store", zap.Error(err))
	}
	defer closeStore()
	taskStore := coordination.NewTaskStore(store, cfg.TaskTTL, log)

	// --- Generation ---
	generator, err := llm.NewGenerator(cfg, log)
	if err != nil {
		zap.L().Fatal("Failed to create generator", zap.Error(err))
	}
	promptBuilder := prompt.NewBuilder(
		messageRepo,
		prompt.NewTokenCounter(cfg.AIModel, log),
		cfg.SystemPrompt,
		cfg.HistoryLimit,
		cfg.PromptMaxTokens,
		log,
	)

	generationWorker := service.NewGenerationWorker(taskStore, messageRepo, generator, service.WorkerConfig{
		GenerationTimeout:  cfg.GenerationTimeout,
		MaxGeneratedLength: cfg.MaxGeneratedLength,
		PersistMaxAttempts: cfg.PersistMaxAttempts,
		PersistRetryDelay:  cfg.PersistRetryDelay,
	}, log)
	pool := worker.NewPool(worker.Config{Workers: cfg.WorkerCount, QueueSize: cfg.WorkerQueueSize}, generationWorker, log)
	pool.Start()

	// --- Dispatch ---
	var (
		dispatcher worker.Dispatcher = pool
		consumer   *messaging.JobConsumer
		mqConn     *amqp.Connection
		publisher  *messaging.RabbitMQDispatcher
	)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.DispatchMode == config.DispatchModeRabbitMQ {
		zap.L().Info("Connecting to RabbitMQ", zap.String("url", utils.MaskURL(cfg.RabbitMQURL)))
		mqConn, err = messaging.Connect(cfg.RabbitMQURL, connectAttempts, connectRetryDelay, log)
		if err != nil {
			zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()

		publisher, err = messaging.NewRabbitMQDispatcher(mqConn, cfg.GenerationQueue, log)
		if err != nil {
			zap.L().Fatal("Failed to create RabbitMQ dispatcher", zap.Error(err))
		}
		dispatcher = publisher

		consumer = messaging.NewJobConsumer(mqConn, pool, cfg.GenerationQueue, cfg.ConsumerPrefetch, log)
		go func() {
			zap.L().Info("Starting generation job consumer", zap.String("queue", cfg.GenerationQueue))
			if err := consumer.StartConsuming(consumerCtx); err != nil {
				zap.L().Error("Generation job consumer stopped with error", zap.Error(err))
			} else {
				zap.L().Info("Generation job consumer stopped")
			}
		}()
	}

	// --- Services ---
	conversationService := service.NewConversationService(conversationRepo, log)
	submissionService := service.NewSubmissionService(conversationRepo, messageRepo, taskStore, promptBuilder, dispatcher, service.SubmissionConfig{
		MaxMessageLength: cfg.MaxMessageLength,
		LockTTL:          cfg.SubmitLockTTL,
		LockWait:         cfg.SubmitLockWait,
	}, log)
	pollService := service.NewPollService(conversationRepo, messageRepo, taskStore, service.PollConfig{
		WaitWindow:           cfg.PollWaitWindow,
		Interval:             cfg.PollInterval,
		FallbackHistoryLimit: cfg.FallbackHistoryLimit,
	}, log)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.GinZapLogger(log))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.GetAllowedOrigins()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// До RegisterRoutes: gin собирает цепочку обработчиков маршрута при регистрации.
	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)
	auth := middleware.JWTAuth(middleware.NewHMACVerifier(cfg.JWTSecret), log)
	handler.NewConversationHandler(conversationService, submissionService, pollService, log).RegisterRoutes(router, auth)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		zap.L().Info("Starting HTTP server", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	// Сначала перестаем принимать новые задания, потом дожидаемся текущих генераций.
	if consumer != nil {
		consumer.Stop()
		stopConsumer()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.WriteTimeout+5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			zap.L().Warn("Failed to close RabbitMQ publisher channel", zap.Error(err))
		}
	}

	poolCtx, poolCancel := context.WithTimeout(context.Background(), cfg.WorkerStopTimeout)
	defer poolCancel()
	if err := pool.Shutdown(poolCtx); err != nil {
		zap.L().Error("Worker pool did not drain in time", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}

// setupCoordinationStore returns the configured Store and a function releasing it.
func setupCoordinationStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (coordination.Store, func(), error) {
	if cfg.CoordinationBackend == config.CoordinationMemory {
		zap.L().Warn("Using in-memory coordination store; tasks are not shared between instances")
		mem := coordination.NewMemoryStore(time.Minute, log)
		return mem, mem.Close, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := coordination.NewRedisStore(client, log)
	if err := waitForRedis(ctx, store, cfg); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			zap.L().Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	return store, closeFn, nil
}

// waitForRedis pings Redis until it answers or the attempts run out.
func waitForRedis(ctx context.Context, store *coordination.RedisStore, cfg *config.Config) error {
	zap.L().Info("Attempting to connect and ping Redis",
		zap.String("address", cfg.RedisAddr), zap.Int("db", cfg.RedisDB), zap.Int("max_retries", connectAttempts))

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := store.Ping(pingCtx)
		pingCancel()
		if err == nil {
			zap.L().Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		zap.L().Warn("Redis ping failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis setup aborted: %w", ctx.Err())
		case <-time.After(connectRetryDelay):
		}
	}
	return fmt.Errorf("failed to connect to redis after %d attempts: %w", connectAttempts, lastErr)
}
