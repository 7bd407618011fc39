package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/database"
	"github.com/quizrun/quizrun-backend/internal/handler"
	"github.com/quizrun/quizrun-backend/internal/logger"
	"github.com/quizrun/quizrun-backend/internal/repository"
	"github.com/quizrun/quizrun-backend/internal/router"
	"github.com/quizrun/quizrun-backend/internal/service"
	"github.com/quizrun/quizrun-backend/internal/validator"
	"github.com/quizrun/quizrun-backend/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting QuizRun Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// ─── Initialize Stores ─────────────────────────────────────────────
	attemptStore := repository.NewAttemptStore(pool)
	responseStore := repository.NewResponseStore(pool)
	questionBank := repository.NewCachedQuestionBank(repository.NewQuestionBank(pool), rdb, log)
	sessionCache := repository.NewSessionCache(rdb, log)

	// ─── Initialize Services ──────────────────────────────────────────
	tokenService := service.NewTokenService(cfg)
	attemptService := service.NewAttemptService(cfg, attemptStore, responseStore, questionBank, sessionCache, log)

	// ─── Recover Auto-Submit Timers ───────────────────────────────────
	// Attempts left IN_PROGRESS by a previous process get their timers
	// re-armed BEFORE accepting traffic; past-due ones close immediately.
	if err := attemptService.RescheduleOpenAttempts(ctx); err != nil {
		log.Fatal().Err(err).Msg("Timer recovery failed")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	reconcileWorker := worker.NewReconcileWorker(rdb, attemptStore, responseStore, questionBank, log)
	go reconcileWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(tokenService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the reconcile worker. Open attempts keep their rows; timers
	// are re-armed by RescheduleOpenAttempts on the next boot.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow the worker to finish its entry.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
