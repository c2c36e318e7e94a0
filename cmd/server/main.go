// Command server is the editor backend entrypoint: it wires configuration,
// persistence, the durable execution queue, the sandbox, and the room hub
// into one gin HTTP server.
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

	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/codecollab/editor-backend/internal/bus"
	"github.com/codecollab/editor-backend/internal/config"
	"github.com/codecollab/editor-backend/internal/health"
	"github.com/codecollab/editor-backend/internal/httpapi"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/middleware"
	"github.com/codecollab/editor-backend/internal/queue"
	"github.com/codecollab/editor-backend/internal/ratelimit"
	"github.com/codecollab/editor-backend/internal/repository"
	"github.com/codecollab/editor-backend/internal/room"
	"github.com/codecollab/editor-backend/internal/sandbox"
	"github.com/codecollab/editor-backend/internal/tracing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tp, err := tracing.InitTracer(ctx, "editor-backend", os.Getenv("OTEL_COLLECTOR_ADDR")); err != nil {
		logging.Warn(ctx, "tracing disabled", zap.Error(err))
	} else {
		defer func() { _ = tp.Shutdown(ctx) }()
	}

	db, err := repository.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	repo := repository.New(db)

	var redisService *bus.Service
	if cfg.RedisEnabled {
		redisService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
		defer redisService.Close()
	}

	issuer := auth.NewLocalIssuer(cfg.JWTSigningKey, "codecollab", 24*time.Hour)

	var validator auth.TokenValidator = issuer
	if cfg.OIDCDomain != "" {
		federated, err := auth.NewValidator(ctx, cfg.OIDCDomain, cfg.OIDCAudience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize federated validator", zap.Error(err))
		}
		validator = federated
	}

	var redisClient *redis.Client
	if redisService != nil {
		redisClient = redisService.Client()
	}
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient, validator)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	sandboxExecutor, err := sandbox.NewExecutor(sandbox.Config{
		DockerHost:           cfg.DockerHost,
		ScratchRoot:          cfg.ScratchRoot,
		SecurityScanEnabled:  cfg.SecurityScanEnabled,
		MaxConcurrency:       5,
		CPUQuotaFraction:     0.5,
		ProcessLimit:         64,
		OpenFileLimit:        1024,
		ContainerPullTimeout: 2 * time.Minute,
	})
	if err != nil {
		logging.Fatal(ctx, "failed to initialize sandbox executor", zap.Error(err))
	}
	defer func() { _ = sandboxExecutor.Close() }()

	queueCfg := queue.DefaultConfig()
	queueCfg.URL = cfg.NATSURL
	publisher, err := queue.NewPublisher(queueCfg)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize execution queue", zap.Error(err))
	}
	defer publisher.Close()

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	hub := room.NewHub(validator, repo, &jobQueueAdapter{publisher: publisher}, rateLimiter, allowedOrigins)

	worker, err := queue.NewWorker(queueCfg, &sandboxExecutorAdapter{executor: sandboxExecutor}, &hubPublisherAdapter{hub: hub}, repo)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize execution worker", zap.Error(err))
	}
	defer worker.Close()
	go func() {
		if err := worker.Run(ctx); err != nil {
			logging.Error(ctx, "execution worker stopped", zap.Error(err))
		}
	}()

	healthHandler := health.NewHandler(redisService, db.Ping, natsPing(queueCfg.URL), dockerPing(sandboxExecutor))

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.CorrelationID(), otelgin.Middleware("editor-backend"))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	engine.Use(rateLimiter.GlobalMiddleware())

	engine.GET("/health/live", healthHandler.Liveness)
	engine.GET("/health/ready", healthHandler.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws/:roomId", hub.ServeWS)

	api := httpapi.New(repo, issuer, hub, worker)
	public := engine.Group("/")

	authed := engine.Group("/")
	authed.Use(middleware.RequireAuth(validator))

	api.RegisterRoutes(public, authed,
		rateLimiter.RegisterMiddleware(), rateLimiter.LoginMiddleware(),
		rateLimiter.RoomCreateMiddleware(), rateLimiter.ExecMiddleware())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: engine}
	go func() {
		logging.Info(ctx, "server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "graceful shutdown failed", zap.Error(err))
	}
}

// jobQueueAdapter satisfies room.JobQueue by translating room.ExecutionJob
// into the durable queue's wire Job type.
type jobQueueAdapter struct {
	publisher *queue.Publisher
}

func (a *jobQueueAdapter) Enqueue(ctx context.Context, job room.ExecutionJob) error {
	return a.publisher.Enqueue(ctx, queue.Job{
		ExecutionID:     job.ExecutionID,
		RoomID:          job.RoomID,
		RequesterUserID: job.RequesterUserID,
		Language:        job.Language,
		Code:            job.Code,
		Stdin:           job.Stdin,
		TimeoutMS:       job.TimeoutMS,
		MemoryBytes:     job.MemoryBytes,
	})
}

// sandboxExecutorAdapter satisfies queue.Executor by translating between the
// queue's mirrored job/result types and the sandbox's own types, so
// internal/queue never needs to import internal/sandbox.
type sandboxExecutorAdapter struct {
	executor *sandbox.Executor
}

func (a *sandboxExecutorAdapter) Run(ctx context.Context, job queue.SandboxJob) (queue.SandboxResult, error) {
	result, err := a.executor.Run(ctx, sandbox.Job{
		ExecutionID: job.ExecutionID,
		Language:    job.Language,
		Code:        job.Code,
		Stdin:       job.Stdin,
		TimeoutMS:   job.TimeoutMS,
		MemoryBytes: job.MemoryBytes,
	})
	if err != nil {
		return queue.SandboxResult{}, err
	}
	return queue.SandboxResult{
		Status:            result.Status,
		Stdout:            result.Stdout,
		Stderr:            result.Stderr,
		ExitCode:          result.ExitCode,
		ExecutionTimeMS:   result.ExecutionTimeMS,
		MemoryBytes:       result.MemoryBytes,
		CompilationTimeMS: result.CompilationTimeMS,
	}, nil
}

// hubPublisherAdapter satisfies queue.ExecutionPublisher by translating a
// finished queue.SandboxResult into the room.ExecutionResult the hub expects.
type hubPublisherAdapter struct {
	hub *room.Hub
}

func (a *hubPublisherAdapter) CompleteExecution(ctx context.Context, roomID, executionID string, result queue.SandboxResult) {
	a.hub.CompleteExecution(ctx, roomID, executionID, room.ExecutionResult{
		Status:            result.Status,
		Stdout:            result.Stdout,
		Stderr:            result.Stderr,
		ExitCode:          result.ExitCode,
		ExecutionTimeMS:   result.ExecutionTimeMS,
		MemoryBytes:       result.MemoryBytes,
		CompilationTimeMS: result.CompilationTimeMS,
	})
}

// natsPing and dockerPing are lightweight readiness probes for the queue and
// sandbox: they only report whether the NATS URL is configured and whether
// the sandbox executor was created; neither contacts the service itself.
func natsPing(url string) health.PingFunc {
	return func(ctx context.Context) error {
		if url == "" {
			return errors.New("nats url not configured")
		}
		return nil
	}
}

func dockerPing(executor *sandbox.Executor) health.PingFunc {
	return func(ctx context.Context) error {
		if executor == nil {
			return errors.New("sandbox executor not initialized")
		}
		return nil
	}
}
