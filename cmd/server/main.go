package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/reviewlens/api/internal/client"
	"github.com/reviewlens/api/internal/config"
	"github.com/reviewlens/api/internal/handler"
	"github.com/reviewlens/api/internal/middleware"
	"github.com/reviewlens/api/internal/pipeline"
	"github.com/reviewlens/api/internal/registry"
	"github.com/reviewlens/api/internal/service"
	"github.com/reviewlens/api/internal/storage"
	"github.com/reviewlens/api/internal/worker"
	ws "github.com/reviewlens/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisAvailable = false
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize object store (falls back to in-memory when not configured)
	var store storage.ObjectStore
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" && cfg.Storage.Bucket != "" {
		s3Store, err := storage.NewS3Store(&cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize object storage: %v", err)
		}
		store = s3Store
	} else {
		log.Println("Info: object storage not configured, using in-memory store")
		store = storage.NewMemoryStore()
	}

	// Initialize job registry (in-memory when Redis is down)
	var reg registry.JobRegistry
	if redisAvailable {
		reg = registry.NewRedisRegistry(redisClient)
	} else {
		log.Println("Info: using in-memory job registry")
		reg = registry.NewMemoryRegistry()
	}

	// Initialize enrichment backend (mock when the external service is not
	// configured)
	var enricher pipeline.Enricher
	enrichClient := client.NewEnrichClient(&cfg.Enrich)
	if enrichClient.IsConfigured() {
		enricher = enrichClient
	} else {
		log.Println("Info: enrichment service not configured, using mock enricher")
		enricher = pipeline.NewMockEnricher()
	}

	// Initialize the batch pipeline worker
	policy := pipeline.RetryPolicy{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		InitialDelay: time.Duration(cfg.Pipeline.InitialDelayMS) * time.Millisecond,
		Multiplier:   cfg.Pipeline.BackoffMultiplier,
	}
	machine := pipeline.NewMachine(pipeline.Stages(enricher), policy,
		time.Duration(cfg.Pipeline.StageTimeout)*time.Second)
	batchWorker := worker.NewBatchWorker(reg, store, machine, hub)

	// Task dispatch: asynq over Redis in production, in-process goroutines
	// when Redis is down so the dev setup still processes batches.
	var tasks service.TaskEnqueuer
	if redisAvailable {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		tasks = asynqClient
		go startWorkerServer(cfg, batchWorker)
	} else {
		log.Println("Info: Redis unavailable, running batch tasks in process")
		tasks = worker.NewInlineEnqueuer(batchWorker, cfg.Pipeline.Concurrency)
	}

	// Initialize services
	ingestService := service.NewIngestService(reg, store, tasks, cfg.Pipeline.BatchSize)
	statusService := service.NewStatusService(reg)
	finalizeService := service.NewFinalizeService(reg, store, enricher,
		time.Duration(cfg.Pipeline.FinalizeTimeout)*time.Second)

	// Initialize handlers
	ingestHandler := handler.NewIngestHandler(ingestService, store, validate)
	statusHandler := handler.NewStatusHandler(statusService)
	finalizeHandler := handler.NewFinalizeHandler(finalizeService)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   redisAvailable,
				"storage": cfg.Storage.Bucket != "",
				"enrich":  enrichClient.IsConfigured(),
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Ingestion routes
	uploads := api.Group("/uploads")
	uploads.Post("/", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), ingestHandler.Upload)
	uploads.Get("/:uploadRef/job", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), statusHandler.ResolveUpload)

	// Object-store notification route
	api.Post("/events/object-created", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), ingestHandler.ObjectCreated)

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), statusHandler.Job)
	jobs.Post("/:jobId/finalize", rateLimiter.FinalizeLimit(cfg.RateLimit.FinalizePerHour), finalizeHandler.Finalize)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, batchWorker *worker.BatchWorker) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Pipeline.Concurrency,
			Queues: map[string]int{
				service.QueueBatches: 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeBatch, batchWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
