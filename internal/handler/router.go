package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leks1107/AI-Copilot/internal/handler/assist"
	relayhandler "github.com/leks1107/AI-Copilot/internal/handler/relay"
	middlewarePkg "github.com/leks1107/AI-Copilot/internal/middleware"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(gateway *relayhandler.WebSocketHandler, assistHandler *assist.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		assistHandler.RegisterRoutes(api)
	})

	gateway.RegisterWebSocketRoutes(r)

	return r
}
