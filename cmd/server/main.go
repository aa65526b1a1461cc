package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/api"
	"github.com/recruitflow/relay/internal/audit"
	"github.com/recruitflow/relay/internal/config"
	"github.com/recruitflow/relay/internal/metrics"
	"github.com/recruitflow/relay/internal/notify"
	"github.com/recruitflow/relay/internal/observ"
	"github.com/recruitflow/relay/internal/redis"
	"github.com/recruitflow/relay/internal/store"
	"github.com/recruitflow/relay/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting relay server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize MongoDB connection
	ctx := context.Background()
	db, err := store.Connect(ctx, store.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Close(closeCtx)
	}()

	notifications := store.NewNotifications(db, logger)
	webhooks := store.NewWebhooks(db, logger)
	preferences := store.NewPreferences(db, logger)

	// Initialize Redis for idempotency and rate limiting
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: time.Duration(cfg.RateLimitWindow) * time.Second,
		})
		defer redisClient.Close()
	}

	// Initialize audit recorder. Falls back to log-only when no queue is
	// configured.
	var recorder audit.Recorder
	if cfg.AuditQueueURL != "" {
		sqsRecorder, err := audit.NewSQSRecorder(ctx, audit.SQSConfig{
			Region:   cfg.AuditRegion,
			QueueURL: cfg.AuditQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("audit queue unavailable, falling back to log recorder",
				zap.Error(err),
			)
			recorder = audit.NewLogRecorder(logger)
		} else {
			recorder = sqsRecorder
		}
	} else {
		recorder = audit.NewLogRecorder(logger)
	}

	// Channel senders
	var senders []notify.ChannelSender

	emailSender, err := notify.NewEmailSender(ctx, notify.EmailConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email notifications disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, emailSender)
	}

	pushSender, err := notify.NewPushSender(ctx, notify.PushConfig{
		Region:   cfg.AWSRegion,
		TopicARN: cfg.SNSTopicARN,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, push and sms notifications disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, pushSender)
	}

	logger.Info("channel senders initialized",
		zap.Bool("email_enabled", emailSender != nil),
		zap.Bool("push_enabled", pushSender != nil),
	)

	// Webhook delivery engine and dispatcher
	deliverer := webhook.NewDeliverer(webhooks, recorder, logger)
	resolver := notify.NewResolver(preferences, logger)
	dispatcher := notify.NewDispatcher(notifications, webhooks, resolver, deliverer, recorder, logger, senders...)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, notifications, webhooks, preferences, dispatcher, deliverer, recorder, idempotencyService)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

		handler.Routes(r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Let detached channel deliveries settle before the process exits
		if err := dispatcher.Drain(shutdownCtx); err != nil {
			logger.Warn("in-flight deliveries did not settle before deadline", zap.Error(err))
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
