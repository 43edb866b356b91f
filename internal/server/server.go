// Package server wires glmproxy's HTTP routes onto a chi mux, per
// spec.md §6.1, simplified from the teacher's SPA/reverse-proxy/websocket
// layer to the single-port surface this spec actually exposes.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/handler"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/middleware"
)

// New builds the chi router exposing glmproxy's HTTP API. The bearer
// middleware never requires auth at this layer (requireAuth=false): spec.md
// §4.B's opaque token is stored in the request context when a client
// supplies one, but glmproxy itself doesn't gate requests on it, and upstream
// calls are signed with the configured token, not the client's.
func New(h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.BearerAuth(false))

	r.Get("/", handler.Root)
	r.Get("/v1/models", h.Models)
	r.Get("/models", h.Models)
	r.Post("/v1/chat/completions", h.ServeChatCompletions)
	r.Post("/chat/completions", h.ServeChatCompletions)

	return r
}
