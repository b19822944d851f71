package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/ai"
	"github.com/quarrylabs/quarry/internal/chunker"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/db"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/filestore"
	"github.com/quarrylabs/quarry/internal/handler"
	"github.com/quarrylabs/quarry/internal/job"
	"github.com/quarrylabs/quarry/internal/middleware"
	"github.com/quarrylabs/quarry/internal/queue"
	"github.com/quarrylabs/quarry/internal/repo"
	"github.com/quarrylabs/quarry/internal/schedule"
	"github.com/quarrylabs/quarry/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "quarry",
		Short: "quarry knowledge base server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run quarry server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			// Secrets referenced as ${VAR} in the config come from the
			// environment; .env is optional.
			_ = godotenv.Load()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer database.Close()
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildEmbedder(cfg config.AIConfig) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.Embedders))
	for _, e := range cfg.Embedders {
		provider, err := ai.NewProvider(e.Type, e.Data)
		if err != nil {
			return nil, fmt.Errorf("init ai provider %s: %w", e.Type, err)
		}
		name := e.Name
		if name == "" {
			name = e.Type
		}
		entries = append(entries, ai.EmbedderEntry{
			Name:     name,
			Embedder: ai.NewEmbedder(provider, e.Model),
		})
	}
	embedder := ai.NewGroupEmbedder(entries)
	if embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return embedder, nil
}

func buildDispatcher(ctx context.Context, cfg *config.Config, processor *service.Processor) (queue.Dispatcher, func(), error) {
	handlerFn := service.ProcessJobHandler(processor)
	if cfg.Queue.Mode == config.QueueModeInline {
		return queue.NewInlineDispatcher(handlerFn), func() {}, nil
	}
	client, err := queue.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	dispatcher := queue.NewAsyncDispatcher(client, handlerFn, queue.Options{
		Prefix:       cfg.Queue.Prefix,
		Concurrency:  cfg.Queue.Concurrency,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryDelay:   time.Duration(cfg.Queue.RetryDelaySeconds) * time.Second,
		PollInterval: time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
	})
	dispatcher.Start(ctx)
	cleanup := func() {
		if err := client.Close(); err != nil {
			logutil.GetLogger(context.Background()).Warn("close redis", zap.Error(err))
		}
	}
	return dispatcher, cleanup, nil
}

func runServer(cfg *config.Config, database *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("queue_mode", cfg.Queue.Mode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docRepo := repo.NewDocumentRepo(database)
	fragmentRepo := repo.NewFragmentRepo(database)
	kbRepo := repo.NewKnowledgeBaseRepo(database)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	embedder, err := buildEmbedder(cfg.AI)
	if err != nil {
		return err
	}
	embedClient := embedding.NewClient(embedder, embedding.Config{
		Dimension:  cfg.Embedding.Dimension,
		BatchSize:  cfg.Embedding.BatchSize,
		BatchDelay: time.Duration(cfg.Embedding.BatchDelayMS) * time.Millisecond,
	})
	queryEmbedder := embedding.NewQueryCache(embedClient,
		cfg.QueryCache.Size, time.Duration(cfg.QueryCache.TTLSeconds)*time.Second)

	chunkCfg := chunker.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
		Separator: *cfg.Chunking.Separator,
	}
	if err := chunkCfg.Validate(); err != nil {
		return err
	}
	processor := service.NewProcessor(docRepo, fragmentRepo, kbRepo, store, embedClient, chunkCfg)

	dispatcher, closeQueue, err := buildDispatcher(ctx, cfg, processor)
	if err != nil {
		return err
	}
	defer closeQueue()

	documentService := service.NewDocumentService(docRepo, fragmentRepo, kbRepo, store, dispatcher)
	searchService := service.NewSearchService(queryEmbedder, fragmentRepo, kbRepo)
	kbService := service.NewKnowledgeBaseService(kbRepo, docRepo, fragmentRepo, store)

	scheduler := schedule.NewCronScheduler()
	reconcileJob := job.NewReconcileDocumentsJob(docRepo, dispatcher,
		time.Duration(cfg.Reconcile.MaxAgeMinutes)*time.Minute)
	if err := scheduler.AddJob(reconcileJob, cfg.Reconcile.CronSpec); err != nil {
		return fmt.Errorf("schedule reconcile job: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		KnowledgeBases:   handler.NewKnowledgeBaseHandler(kbService),
		Documents:        handler.NewDocumentHandler(documentService, cfg.Upload.MaxUploadMB<<20),
		Search:           handler.NewSearchHandler(searchService),
		Queue:            handler.NewQueueHandler(dispatcher),
		JWTSecret:        []byte(cfg.JWTSecret),
		UploadRateWindow: time.Duration(cfg.Upload.RateWindowSeconds) * time.Second,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSOrigins),
			middleware.RequestID(),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	if err := dispatcher.Close(); err != nil {
		logutil.GetLogger(context.Background()).Warn("close dispatcher", zap.Error(err))
	}
	return nil
}
