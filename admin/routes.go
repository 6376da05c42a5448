package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin API router, rooted at /
func NewRouter(handlers *AdminHandlers) chi.Router {
	r := chi.NewRouter()

	// Liveness stays open for load balancers
	r.Get("/health", handlers.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(chiAuthMiddleware)
		r.Get("/stats", handlers.handleStats)
		r.Get("/circuits", handlers.handleCircuits)
		r.Post("/unsubscribe-all", handlers.handleUnsubscribeAll)
	})

	r.Route("/channels", func(r chi.Router) {
		r.Use(chiAuthMiddleware)
		r.Get("/", handlers.handleListChannels)
		r.Get("/status", handlers.handleChannelStatus)
		r.Post("/reconnect", handlers.handleReconnect)
	})

	return r
}

// RegisterRoutes registers all admin API routes under /admin
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := NewRouter(handlers)

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

// chiAuthMiddleware adapts AuthMiddleware for chi
func chiAuthMiddleware(next http.Handler) http.Handler {
	return AuthMiddleware(next)
}
