package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ralphctl/coordinator/internal/config"
	"github.com/ralphctl/coordinator/internal/coordinator"
	"github.com/ralphctl/coordinator/internal/metrics"
)

const serverSubsystem = "Server"

// Server is the Control API's HTTP surface over one Coordinator.
type Server struct {
	coord  *coordinator.Coordinator
	creds  config.Credentials
	router chi.Router
}

// New builds a Server with its full route table wired to coord. creds is
// used only to answer GET /providers' "configured" field; the zero value
// is valid and reports every provider as unconfigured.
func New(coord *coordinator.Coordinator, creds config.Credentials) *Server {
	s := &Server{coord: coord, creds: creds}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/run", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/{id}", s.handleGetRun)
		r.Post("/{id}/stop", s.handleStopRun)
		r.Get("/{id}/stream", s.handleStreamRun)
	})
	r.Get("/runs", s.handleListRuns)
	r.Get("/providers", s.handleProviders)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s
}

// ServeHTTP lets Server be handed directly to http.Server or httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
