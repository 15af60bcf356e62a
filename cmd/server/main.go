package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"penaltydesk-backend/config"
	"penaltydesk-backend/gemini"
	"penaltydesk-backend/handlers"
	"penaltydesk-backend/logging"
	"penaltydesk-backend/metrics"
	"penaltydesk-backend/repository"
	"penaltydesk-backend/service"
	"penaltydesk-backend/storage"
	"penaltydesk-backend/upstream"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize repositories
	repos, closeStore, err := initStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize storage
	documentStorage, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("storage initialized", zap.String("type", string(cfg.Storage.Type)))

	recorder := metrics.NewRecorder()

	stewardClient := upstream.NewClient(cfg.Upstream.URL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithMaxRetries(cfg.Upstream.MaxRetries),
		upstream.WithLogger(logger),
	)

	analysisOpts := []service.AnalysisServiceOption{
		service.WithAnalysisRepository(repos.analyses),
		service.WithAnalysisJobRepository(repos.jobs),
		service.WithReplySource(stewardClient),
		service.WithDocumentStorage(documentStorage),
		service.WithMetrics(recorder),
		service.WithLogger(logger),
		service.WithDefaultMode(cfg.Analysis.Mode),
		service.WithDefaultPrompt(cfg.Analysis.DefaultPrompt),
		service.WithDefaultLLMChoice(cfg.Upstream.LLMChoice),
		service.WithBatchConcurrency(cfg.Analysis.BatchConcurrency),
	}

	// Structured analysis is only available with a Gemini key
	if cfg.Gemini.APIKey != "" {
		geminiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
		if err != nil {
			return fmt.Errorf("failed to initialize Gemini: %w", err)
		}
		defer geminiClient.Close()

		analyzer := gemini.NewAnalyzer(geminiClient, cfg.Gemini.Model, gemini.WithLogger(logger))
		analysisOpts = append(analysisOpts, service.WithStructuredAnalyzer(analyzer))
		logger.Info("gemini client initialized", zap.String("model", cfg.Gemini.Model))
	} else {
		logger.Warn("GEMINI_API_KEY not set, structured analysis disabled")
	}

	// Initialize services
	analysisService := service.NewAnalysisService(analysisOpts...)
	chatService := service.NewChatService(
		service.ChatWithRepository(repos.chats),
		service.ChatWithReplySource(stewardClient),
		service.ChatWithMock(cfg.Chat.Mock),
		service.ChatWithDefaultLLMChoice(cfg.Upstream.LLMChoice),
		service.ChatWithLogger(logger),
	)

	// Initialize handlers
	gin.SetMode(cfg.Server.GinMode)
	analysisHandler := handlers.NewAnalysisHandler(analysisService, logger)
	router := handlers.NewRouter(handlers.RouterConfig{
		Analyses:    analysisHandler,
		Chats:       handlers.NewChatHandler(chatService),
		Metrics:     recorder,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	analysisHandler.WaitForJobs()
	return nil
}

type repositories struct {
	chats    repository.ChatRepository
	analyses repository.AnalysisRepository
	jobs     repository.AnalysisJobRepository
}

func initStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repositories, func(), error) {
	switch cfg.Type {
	case config.StorePostgres:
		pool, err := initPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return repositories{}, nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		logger.Info("postgres connection established")
		return repositories{
			chats:    repository.NewPostgresChatRepository(pool),
			analyses: repository.NewPostgresAnalysisRepository(pool),
			jobs:     repository.NewPostgresAnalysisJobRepository(pool),
		}, pool.Close, nil
	default:
		store, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return repositories{}, nil, fmt.Errorf("failed to open SQLite store: %w", err)
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return repositories{
			chats:    store.Chats(),
			analyses: store.Analyses(),
			jobs:     store.Jobs(),
		}, func() { _ = store.Close() }, nil
	}
}

func initPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
