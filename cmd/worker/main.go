package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ayoubkhl/ragrelay/internal/cache"
	"github.com/ayoubkhl/ragrelay/internal/channel"
	"github.com/ayoubkhl/ragrelay/internal/config"
	"github.com/ayoubkhl/ragrelay/internal/conversation"
	"github.com/ayoubkhl/ragrelay/internal/database"
	"github.com/ayoubkhl/ragrelay/internal/embedding"
	"github.com/ayoubkhl/ragrelay/internal/knowledge"
	"github.com/ayoubkhl/ragrelay/internal/llm"
	"github.com/ayoubkhl/ragrelay/internal/plan"
	"github.com/ayoubkhl/ragrelay/internal/queue"
	"github.com/ayoubkhl/ragrelay/internal/queue/workers"
	"github.com/ayoubkhl/ragrelay/internal/retrieval"
	"github.com/ayoubkhl/ragrelay/internal/tenant"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	c := cache.NewCache(rdb)
	tenants := tenant.NewService(db)
	plans := plan.NewService(db, c)
	ledger := usage.NewPgLedger(db, plans)
	resolver := channel.NewPgResolver(db)
	store := vectorstore.NewPgVectorStore(db)
	gateway := llm.NewGateway(cfg.LLM)
	embedSvc := embedding.NewService(gateway, cfg.LLM.EmbeddingModel)
	engine := retrieval.NewEngine(store, embedSvc, ledger, cfg.Pipeline.EmbedTimeout, cfg.Pipeline.RetrieveTimeout)
	convs := conversation.NewService(db)
	queueClient := queue.NewClient(cfg.Redis)
	indexer := knowledge.NewIndexer(db, tenants, ledger, plans, queueClient, store)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Pipeline.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueMessages: 6,
				queue.QueueIndexing: 3,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	messageWorker := workers.NewMessageWorker(resolver, ledger, engine, gateway, convs, c, cfg.Pipeline)
	indexingWorker := workers.NewIndexingWorker(indexer, embedSvc, store, cfg.Pipeline)

	registry.Register(queue.TypeMessageProcess, asynq.HandlerFunc(messageWorker.ProcessTask))
	registry.Register(queue.TypeDocumentIndex, asynq.HandlerFunc(indexingWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", cfg.Pipeline.WorkerConcurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
