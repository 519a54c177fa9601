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

	"github.com/tailhq/courier/internal/analytics"
	"github.com/tailhq/courier/internal/api"
	"github.com/tailhq/courier/internal/channel"
	"github.com/tailhq/courier/internal/circuitbreaker"
	"github.com/tailhq/courier/internal/config"
	"github.com/tailhq/courier/internal/events"
	"github.com/tailhq/courier/internal/journey"
	"github.com/tailhq/courier/internal/metrics"
	"github.com/tailhq/courier/internal/observ"
	"github.com/tailhq/courier/internal/orchestrator"
	"github.com/tailhq/courier/internal/preference"
	"github.com/tailhq/courier/internal/provider"
	"github.com/tailhq/courier/internal/redis"
	"github.com/tailhq/courier/internal/scheduler"
	"github.com/tailhq/courier/internal/store"
	"github.com/tailhq/courier/internal/template"
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

	logger.Info("starting courier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	db, err := store.New(ctx, store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	templateRepo := store.NewTemplateRepository(db, logger)
	messageRepo := store.NewMessageRepository(db, logger)
	journeyRepo := store.NewJourneyRepository(db, logger)
	enrollmentRepo := store.NewEnrollmentRepository(db, logger)

	// Redis backs send counters and API rate limiting
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	sendLog := redis.NewSendLog(redisClient, logger)
	rateLimiter := redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
		Limit:  cfg.RateLimit,
		Window: cfg.RateLimitWindow,
	})

	// Preference service client
	prefClient := preference.NewClient(preference.ClientConfig{
		BaseURL: cfg.PreferenceBaseURL,
	}, logger)

	// Channel providers, each transport wrapped in a circuit breaker
	sesProvider, err := provider.NewSESProvider(ctx, provider.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email provider: %w", err)
	}

	providers := []channel.Provider{
		provider.NewInboxProvider(messageRepo, logger),
		protect(sesProvider, "ses", logger),
	}

	smsProvider, err := provider.NewSNSProvider(ctx, provider.SNSConfig{
		Region: cfg.AWSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS provider unavailable, SMS channel disabled", zap.Error(err))
	} else {
		providers = append(providers, protect(smsProvider, "sns", logger))
	}

	if cfg.PushGatewayURL != "" {
		push := provider.NewPushGateway(provider.GatewayConfig{URL: cfg.PushGatewayURL}, logger)
		providers = append(providers, protect(push, "push-gateway", logger))
	} else if cfg.Env == "development" {
		providers = append(providers, provider.NewLogProvider(channel.Push, logger))
	} else {
		logger.Warn("push gateway not configured, push channel disabled")
	}

	if cfg.WhatsAppGatewayURL != "" {
		wa := provider.NewWhatsAppGateway(provider.GatewayConfig{URL: cfg.WhatsAppGatewayURL}, logger)
		providers = append(providers, protect(wa, "whatsapp-gateway", logger))
	} else if cfg.Env == "development" {
		providers = append(providers, provider.NewLogProvider(channel.WhatsApp, logger))
	}

	registry, err := channel.NewRegistry(logger, providers...)
	if err != nil {
		return fmt.Errorf("failed to build channel registry: %w", err)
	}

	// Template store
	renderer := template.NewRenderer(cfg.Locale, cfg.Currency)
	templateStore := template.NewStore(templateRepo, renderer, logger)

	// Analytics sink
	var sink orchestrator.Analytics = analytics.NopSink{}
	if cfg.AnalyticsTopicARN != "" {
		publisher, err := analytics.NewPublisher(ctx, cfg.AWSRegion, cfg.AnalyticsTopicARN, logger)
		if err != nil {
			logger.Warn("analytics publisher unavailable, events will not be recorded", zap.Error(err))
		} else {
			sink = publisher
		}
	}

	orch := orchestrator.New(templateStore, messageRepo, prefClient, registry, sendLog, sink, logger)

	// Journey engine
	engineOpts := []journey.Option{
		journey.WithActivitySource(redis.NewActivityLog(redisClient, logger)),
	}
	if cfg.CRMBaseURL != "" {
		crm := journey.NewHTTPCRMClient(journey.CRMConfig{BaseURL: cfg.CRMBaseURL}, logger)
		engineOpts = append(engineOpts, journey.WithCRM(crm))
	}
	engine := journey.NewEngine(journeyRepo, enrollmentRepo, orch, logger, engineOpts...)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	// Surface pool usage on the metrics endpoint
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-backgroundCtx.Done():
				return
			case <-ticker.C:
				metrics.SetDBConnections(int(db.Pool().Stat().TotalConns()))
			}
		}
	}()

	// Scheduler drives journey steps and queued message delivery
	sched := scheduler.New(engine, orch, scheduler.Config{
		Interval:       cfg.SchedulerInterval,
		QueueBatchSize: cfg.QueueBatchSize,
	}, logger)
	go sched.Start(backgroundCtx)

	// SQS event consumer feeds the journey engine
	if cfg.EventsQueueURL != "" {
		consumer, err := events.NewConsumer(ctx, events.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.EventsQueueURL,
		}, engine, logger)
		if err != nil {
			logger.Warn("event consumer unavailable, event-driven journeys disabled", zap.Error(err))
		} else {
			go consumer.Start(backgroundCtx)
		}
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(ww, req)

			logger.Info("request completed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(req.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, orch, templateStore, engine, journeyRepo, messageRepo, enrollmentRepo)
	r.Group(func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", handler.Health)
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		backgroundCancel()

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

func protect(p channel.Provider, name string, logger *zap.Logger) channel.Provider {
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
	return circuitbreaker.NewProtectedProvider(p, breaker, logger)
}
