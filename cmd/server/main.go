package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/attemptlock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

const janitorInterval = time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("instance", cfg.InstanceID).
		Str("rate_limit_backend", cfg.RateLimitBackend).
		Str("lock_backend", cfg.LockBackend).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Tracing ───────────────────────────────────────────────────────
	shutdownOTel := observability.InitOTel(ctx, log, observability.OTelConfig{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  cfg.OTelServiceName,
		Endpoint:     cfg.OTelEndpoint,
		SamplerRatio: cfg.OTelSamplerRatio,
		Environment:  cfg.GinMode,
	})

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	sessionRepo := repository.NewExamSessionRepository(pool)
	certificateRepo := repository.NewCertificateRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Rate Limiter & Attempt Locks ──────────────────────────────────
	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == config.BackendMemory {
		memLimiter := ratelimit.NewMemoryLimiter()
		memLimiter.StartJanitor(ctx, janitorInterval)
		limiter = memLimiter
	} else {
		limiter = ratelimit.NewRedisLimiter(rdb, log)
	}

	var locks attemptlock.Manager
	if cfg.LockBackend == config.BackendMemory {
		locks = attemptlock.NewMemoryManager(cfg.InstanceID)
	} else {
		locks = attemptlock.NewRedisManager(rdb, cfg.InstanceID)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	events := service.NewRedisEventPublisher(rdb)
	sessionService := service.NewExamSessionService(examRepo, sessionRepo, locks, limiter, events, log)
	certificateService := service.NewCertificateService(certificateRepo, limiter, log)
	gradingGate := service.NewGradingGate(sessionRepo, limiter, rdb, log)
	monitorService := service.NewMonitorService(examRepo, monitorRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	checks := map[string]handler.Pinger{
		"postgres": handler.PingFunc(pool.Ping),
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	}
	handlers := &router.Handlers{
		ExamSession: handler.NewExamSessionHandler(sessionService),
		Certificate: handler.NewCertificateHandler(certificateService),
		WS:          handler.NewWSHandler(rdb, sessionService, log, cfg.AllowedOrigins),
		Monitor:     handler.NewMonitorHandler(rdb, monitorService, log),
		Proctor:     handler.NewProctorHandler(sessionService, gradingGate),
		System:      handler.NewSystemHandler(rdb, checks, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	flagWorker := worker.NewFlagWorker(rdb, sessionService, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		flagWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r, err := router.SetupRouter(authService, handlers, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up router")
	}

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Long-lived streams are cut by
	// cancelling their contexts once the deadline passes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the flag worker and wait for it to drain its queue.
	workerCancel()
	workers.Wait()

	// 3. Flush pending spans.
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("OTel shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
