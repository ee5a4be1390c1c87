// Package api exposes the HTTP surface: the nginx admission handshake, the
// realtime subscription endpoint and process observability.
package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inn0kenty/mail2mongo/internal/admission"
	"github.com/inn0kenty/mail2mongo/internal/registry"
)

// API serves the HTTP endpoints.
type API struct {
	Log      *log.Logger
	Gate     *admission.AllowList
	Registry *registry.Registry

	// Hostname and SMTPPort are handed to nginx in the authentication
	// handshake so it knows where to forward admitted connections.
	Hostname string
	SMTPPort string
}

// Routes builds the router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/nginx-auth", a.handleNginxAuth)
	r.Get("/ws", a.handleWebsocket)
	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
