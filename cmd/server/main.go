// AI Cofounder - conversation, contract and compliance server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/voicebootix/aidebuggerfoundry/internal/api"
	"github.com/voicebootix/aidebuggerfoundry/internal/compliance"
	"github.com/voicebootix/aidebuggerfoundry/internal/config"
	"github.com/voicebootix/aidebuggerfoundry/internal/contract"
	"github.com/voicebootix/aidebuggerfoundry/internal/conversation"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/intent"
	"github.com/voicebootix/aidebuggerfoundry/internal/llm"
	"github.com/voicebootix/aidebuggerfoundry/internal/locks"
	"github.com/voicebootix/aidebuggerfoundry/internal/metrics"
	"github.com/voicebootix/aidebuggerfoundry/internal/middleware"
	"github.com/voicebootix/aidebuggerfoundry/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DBDriver)

	// Initialize dependencies.
	repo, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Completion capability (optional). Every consumer has a deterministic fallback.
	var capability llm.Capability
	var capabilityHealth api.CapabilityChecker
	switch cfg.Capability.Provider {
	case config.ProviderGRPC:
		slog.Info("Attempting to connect to capability service via gRPC", "address", cfg.Capability.GRPCAddr)
		grpcClient, err := llm.NewGrpcClient(llm.DefaultGrpcClientConfig(cfg.Capability.GRPCAddr), logger)
		if err != nil {
			slog.Warn("Failed to connect to capability service, using fallbacks", "error", err)
			break
		}
		defer grpcClient.Close()
		capability = grpcClient
		capabilityHealth = grpcClient
	case config.ProviderHTTP:
		capability = llm.NewHTTPClient(cfg.Capability.BaseURL, cfg.Capability.APIKey, cfg.Capability.Model)
		slog.Info("Using HTTP completion capability", "model", cfg.Capability.Model)
	}
	if capability == nil {
		slog.Info("Completion capability disabled, all components use heuristic fallbacks")
	}

	// Per-key locks: Redis when several instances share the database.
	var locker locks.Locker = locks.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		locker = locks.NewRedisLocker(rdb, locks.RedisLockerConfig{TTL: cfg.LockTTL}, logger)
		slog.Info("Using Redis locker", "addr", cfg.RedisAddr)
	}

	rules, err := contract.LoadRules(cfg.RulesPath)
	if err != nil {
		slog.Error("Failed to load contract rules", "path", cfg.RulesPath, "error", err)
		os.Exit(1)
	}

	transcript, err := conversation.NewTranscriptLogger(conversation.TranscriptConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Warn("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	extractor, err := contract.NewExtractor(contract.ExtractorConfig{
		Capability: capability,
		Timeout:    cfg.Capability.Timeout,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		slog.Error("Failed to initialize requirement extractor", "error", err)
		os.Exit(1)
	}

	builder, err := contract.NewBuilder(contract.BuilderConfig{
		Store:   repo,
		Rules:   rules,
		Locker:  locker,
		Options: contractOptions(cfg.Contract),
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		slog.Error("Failed to initialize contract builder", "error", err)
		os.Exit(1)
	}

	sm, err := conversation.NewStateMachine(conversation.Config{
		Store: repo,
		Classifier: intent.NewClassifier(intent.Config{
			Capability: capability,
			Timeout:    cfg.Capability.Timeout,
			Logger:     logger,
			Metrics:    m,
		}),
		Extractor:  extractor,
		Builder:    builder,
		Capability: capability,
		Timeout:    cfg.Capability.Timeout,
		Locker:     locker,
		Transcript: transcript,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		slog.Error("Failed to initialize conversation state machine", "error", err)
		os.Exit(1)
	}

	engine, err := compliance.NewEngine(compliance.Config{
		Capability: capability,
		Timeout:    cfg.Capability.Timeout,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		slog.Error("Failed to initialize compliance engine", "error", err)
		os.Exit(1)
	}
	tracker := compliance.NewTracker(engine, repo, locker, logger)

	// Initialize handlers.
	hub := api.NewStreamHub()
	router := api.NewRouter(api.RouterConfig{
		Base:           api.NewHandler(repo, sm, builder, tracker, hub),
		Health:         api.NewHealthHandler(repo, capabilityHealth),
		Users:          repo,
		Gatherer:       reg,
		Limiter:        middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
	})

	// Create server.
	// Note: the compliance stream is a long-lived websocket (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PollInterval > 0 {
		compliance.StartPoller(ctx, repo, tracker, cfg.PollInterval)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully", "transcript_events_dropped", transcript.Dropped())
}

// contractOptions turns configured overrides into builder options. Zero
// thresholds keep the defaults.
func contractOptions(c config.ContractConfig) contract.Options {
	autoCorrect := c.AutoCorrection
	opts := contract.Options{AutoCorrection: &autoCorrect}
	if c.MinorThreshold == 0 && c.MajorThreshold == 0 && c.CriticalThreshold == 0 {
		return opts
	}
	t := domain.DefaultThresholds()
	if c.MinorThreshold > 0 {
		t.Minor = c.MinorThreshold
	}
	if c.MajorThreshold > 0 {
		t.Major = c.MajorThreshold
	}
	if c.CriticalThreshold > 0 {
		t.Critical = c.CriticalThreshold
	}
	opts.Thresholds = &t
	return opts
}
