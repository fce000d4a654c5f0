// Package server is the HTTP read API and manual task trigger surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cognicore/tagstream/internal/server/handlers"
	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/config"
	"github.com/cognicore/tagstream/pkg/tagstream/schedule"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Deps are the components the API reads from.
type Deps struct {
	Store      store.Store
	Reader     *analytics.Reader
	Aggregator *analytics.Aggregator
	Scheduler  *schedule.Scheduler
	Location   *time.Location
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	channelHandler := handlers.NewChannelHandler(deps.Store)
	analyticsHandler := handlers.NewAnalyticsHandler(deps.Reader, deps.Aggregator, deps.Location)
	messageHandler := handlers.NewMessageHandler(deps.Store)
	taskHandler := handlers.NewTaskHandler(deps.Scheduler)
	dictionaryHandler := handlers.NewDictionaryHandler(deps.Store)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Route("/v1", func(r chi.Router) {
			r.Route("/channels", func(r chi.Router) {
				r.Get("/", channelHandler.ListChannels)
				r.Route("/{id}/analytics", func(r chi.Router) {
					r.Get("/window", analyticsHandler.GetWindow)
					r.Get("/recent", analyticsHandler.GetRecent)
					r.Get("/records", analyticsHandler.ListRecords)
				})
			})

			r.Post("/analytics/compute", analyticsHandler.Compute)

			r.Get("/messages/{id}", messageHandler.GetMessage)

			r.Route("/dictionary", func(r chi.Router) {
				r.Get("/", dictionaryHandler.Export)
				r.Get("/categories", dictionaryHandler.ListCategories)
				r.Post("/categories", dictionaryHandler.CreateCategory)
				r.Route("/terms", func(r chi.Router) {
					r.Get("/", dictionaryHandler.ListTerms)
					r.Post("/", dictionaryHandler.CreateTerm)
					r.Get("/{id}", dictionaryHandler.GetTerm)
					r.Patch("/{id}", dictionaryHandler.UpdateTerm)
					r.Post("/{id}/keywords", dictionaryHandler.AddKeyword)
					r.Delete("/{id}/keywords", dictionaryHandler.RemoveKeyword)
				})
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", taskHandler.ListTasks)
				r.Post("/{id}/run", taskHandler.RunTask)
			})
		})
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
