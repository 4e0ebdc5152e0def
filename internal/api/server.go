package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/pipeline"
)

// Server is the HTTP front end. Each client works inside a session created
// with POST /api/sessions.
type Server struct {
	router   chi.Router
	service  *pipeline.Service
	sessions *pipeline.Store
	cfg      config.ServerConfig
}

func NewServer(service *pipeline.Service, sessions *pipeline.Store, cfg config.ServerConfig) *Server {
	s := &Server{
		service:  service,
		sessions: sessions,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Put("/key", s.handleSetKey)
			r.Post("/documents", s.handleUpload)
			r.Get("/document", s.handleDocument)
			r.Post("/query", s.handleQuery)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
