package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/handlers"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, st store.MessageStore, redisStore *store.RedisStore, sessionSecret string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting; degrades to pass-through without Redis
	var redisClient *redis.Client
	if redisStore != nil {
		redisClient = redisStore.Client()
	}
	limiter := middleware.NewRateLimiter(redisClient, logger)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(st, redisStore, logger)
	auth := middleware.NewAuthMiddleware(sessionSecret)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Authenticated routes (require a session token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession)

		r.Post("/messages", h.SendMessage)
		r.Get("/messages/unread", h.UnreadSummary)
		r.Get("/messages/search", h.SearchMessages)
		r.Get("/messages/{id}", h.GetMessage)
		r.Put("/messages/{id}", h.EditMessage)
		r.Delete("/messages/{id}", h.DeleteMessage)
		r.Post("/messages/{id}/read", h.MarkMessageRead)
		r.Post("/messages/{id}/reactions", h.ToggleReaction)

		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Post("/conversations/{id}/read", h.MarkConversationRead)
		r.Post("/conversations/{id}/archive", h.ArchiveConversation)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/admin/conversations/{id}/recompute", h.RecomputeUnread)
		})
	})

	return r
}
