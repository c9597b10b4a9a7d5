package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventStore looks up a stored event result. It returns
// domain.ErrEventNotFound when nothing is stored for the id.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (domain.EventResult, error)
}

// Server exposes health, readiness, metrics and event result endpoints.
type Server struct {
	httpServer *http.Server
	events     EventStore
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz and /metrics
// routes. /events/{eventID} is registered only when events is non-nil.
func NewServer(addr string, ready sharedobs.ReadinessChecker, events EventStore, logger *slog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		events: events,
		logger: logger,
	}

	router.HandleFunc("/healthz", sharedobs.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", sharedobs.ReadinessHandler(ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if events != nil {
		router.HandleFunc("/events/{eventID}", s.handleEvent).Methods(http.MethodGet)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["eventID"]

	res, err := s.events.GetEvent(r.Context(), eventID)
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{
			"error":    "event not found",
			"event_id": eventID,
		})
	case err != nil:
		s.logger.Error("get event failed", "error", err, "event_id", eventID)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	default:
		sharedobs.WriteJSON(w, http.StatusOK, res)
	}
}
