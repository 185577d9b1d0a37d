package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/web/handlers"
	"github.com/mall-resolver/internal/web/middleware"
)

// Dependencies are the services behind the review API. Audit and Store are optional.
type Dependencies struct {
	Engine *match.Engine
	Report *match.Report
	Audit  interface {
		handlers.StatisticsSource
		handlers.HistorySource
	}
	Store handlers.Persister
}

// Server represents the web server
type Server struct {
	config     Config
	httpServer *http.Server
	router     *mux.Router
	queue      *handlers.ReviewQueue
}

// NewServer creates a new web server instance
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("web: engine is required")
	}

	server := &Server{
		config: config,
		queue:  handlers.NewReviewQueue(deps.Report),
	}
	server.setupRoutes(deps)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(deps Dependencies) {
	s.router = mux.NewRouter()

	apiHandler := &handlers.APIHandler{Engine: deps.Engine, Queue: s.queue}
	reviewHandler := &handlers.ReviewHandler{Engine: deps.Engine, Queue: s.queue, Store: deps.Store}
	if deps.Audit != nil {
		apiHandler.Audit = deps.Audit
		reviewHandler.History = deps.Audit
	}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/stats", apiHandler.GetStats).Methods("GET")
	api.HandleFunc("/malls/{id}", apiHandler.GetMall).Methods("GET")

	api.HandleFunc("/review/{tier:medium|low}", reviewHandler.ListReview).Methods("GET")
	api.HandleFunc("/review/{storeID}/decision", reviewHandler.SubmitDecision).Methods("POST")
	api.HandleFunc("/review/{storeID}/history", reviewHandler.GetHistory).Methods("GET")

	s.router.Use(middleware.RequestLogging())
	api.Use(middleware.Authentication(s.config.APIKey))
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Queue returns the open review items
func (s *Server) Queue() *handlers.ReviewQueue {
	return s.queue
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("starting review server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down review server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return nil
}
