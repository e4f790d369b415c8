package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/papertrail/internal/api/middlewares"
	"github.com/markdave123-py/papertrail/internal/config"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth      *handlers.AuthHandler
	Documents *handlers.DocumentHandler
	Jobs      *handlers.JobHandler
	Search    *handlers.SearchHandler
}

func (a *App) Handlers() Handlers {
	return Handlers{
		Auth:      handlers.NewAuthHandler(a.Users, a.Config.JWTSecret, a.Log),
		Documents: handlers.NewDocumentHandler(a.Documents, a.Jobs, a.Log),
		Jobs:      handlers.NewJobHandler(a.Jobs, a.Config.StaleAfter, a.Log),
		Search:    handlers.NewSearchHandler(a.Search, a.Log),
	}
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewRouter builds and wires all routes.
func NewRouter(cfg *config.Config, h Handlers, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/login", h.Auth.Login)

		api.Post("/upload", h.Documents.UploadDocument)
		api.Get("/jobs/{jobID}", h.Jobs.GetJob)
		api.Get("/documents", h.Documents.ListDocuments)
		api.Get("/documents/{docID}", h.Documents.GetDocument)
		api.Get("/documents/{docID}/file", h.Documents.GetDocumentFile)
		api.Get("/search", h.Search.Search)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret)))
			admin.Get("/progress", h.Jobs.Progress)
			admin.Get("/jobs/stale", h.Jobs.StaleJobs)
			admin.Post("/jobs/{jobID}/steps/{step}/retry", h.Jobs.RetryStep)
			admin.Post("/jobs/{jobID}/resume", h.Jobs.ResumeJob)
			admin.Put("/documents/{docID}/metadata", h.Documents.UpdateMetadata)
			admin.Get("/stats", h.Jobs.Stats)
		})
	})
	return r
}

func NewServer(cfg *config.Config, h Handlers, log *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, h, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
