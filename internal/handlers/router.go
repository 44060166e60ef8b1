package handlers

import (
	"net/http"

	"finsync/internal/config"
	"finsync/internal/middleware"
	"finsync/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	cfg          config.Config
	engine       SyncEngine
	accounts     AccountStore
	transactions TransactionStore
	locker       RunLocker
	hub          *websocket.Hub
}

func New(cfg config.Config, engine SyncEngine, accounts AccountStore, transactions TransactionStore, locker RunLocker, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:          cfg,
		engine:       engine,
		accounts:     accounts,
		transactions: transactions,
		locker:       locker,
		hub:          hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/sync/run", h.TriggerSync)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/sync/accounts", h.ListSyncAccounts)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/sync/accounts/{id}", h.GetSyncAccount)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/sync/stats", h.SyncStats)
	router.Get("/ws/sync", h.WSSync)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
