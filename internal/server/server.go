// Package server exposes the episode store over a small read-only HTTP API.
// Writes never go through HTTP; sessions feed the store in-process.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/convoke/episodic/internal/store"
)

// Service wires the episode store to HTTP routes.
type Service struct {
	version   string
	store     store.EpisodeStore
	router    *chi.Mux
	startTime time.Time
}

// New creates the HTTP service over the given store.
func New(version string, st store.EpisodeStore) *Service {
	svc := &Service{
		version:   version,
		store:     st,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/episodes", s.handleListEpisodes)
		r.Get("/episodes/notable", s.handleNotableEpisodes)
		r.Get("/sessions/{sessionID}/episodes", s.handleSessionEpisodes)
	})
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Service) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
