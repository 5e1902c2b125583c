package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ayoubkhl/ragrelay/internal/api/handlers"
	"github.com/ayoubkhl/ragrelay/internal/api/middleware"
	"github.com/ayoubkhl/ragrelay/internal/cache"
	"github.com/ayoubkhl/ragrelay/internal/config"
	"github.com/ayoubkhl/ragrelay/internal/conversation"
	"github.com/ayoubkhl/ragrelay/internal/ingest"
	"github.com/ayoubkhl/ragrelay/internal/knowledge"
	"github.com/ayoubkhl/ragrelay/internal/plan"
	"github.com/ayoubkhl/ragrelay/internal/queue"
	"github.com/ayoubkhl/ragrelay/internal/tenant"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Services
	c := cache.NewCache(rt.redis)
	ts := tenant.NewService(rt.db)
	plans := plan.NewService(rt.db, c)
	ledger := usage.NewPgLedger(rt.db, plans)
	queueClient := queue.NewClient(rt.cfg.Redis)
	store := vectorstore.NewPgVectorStore(rt.db)
	indexer := knowledge.NewIndexer(rt.db, ts, ledger, plans, queueClient, store)
	convs := conversation.NewService(rt.db)
	registry := ingest.NewRegistry(ingest.NewWhatsAppNormalizer())

	jwtMW := middleware.NewJWTMiddleware(rt.cfg.Auth.JWTSecret, ts)

	// Health (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Provider webhooks (no auth; the provider is authenticated by the
	// verify handshake, and receipt is always acknowledged)
	wh := handlers.NewWebhookHandler(registry, queueClient, rt.cfg.Auth.WebhookVerifyToken)
	r.Get("/webhooks/{provider}", wh.Verify)
	r.Post("/webhooks/{provider}", wh.Receive)

	// Tenant-scoped API
	docs := handlers.NewDocumentHandler(indexer)
	convH := handlers.NewConversationHandler(convs)
	usageH := handlers.NewUsageHandler(ledger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwtMW.Authenticate)

		r.Post("/documents", docs.Upload)
		r.Get("/documents", docs.List)
		r.Get("/documents/{id}", docs.Get)
		r.Delete("/documents/{id}", docs.Delete)

		r.Get("/conversations/{id}/messages", convH.Messages)
		r.Get("/usage", usageH.Today)
	})

	return r
}
