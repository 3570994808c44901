// Package server exposes the catalog, sources, favorites and content policy
// over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voyagen/iptvmine/internal/aggregator"
	"github.com/voyagen/iptvmine/internal/filter"
	xlog "github.com/voyagen/iptvmine/internal/log"
	"github.com/voyagen/iptvmine/internal/store"
)

// RefreshLimit is the number of refresh requests accepted per client per minute.
const RefreshLimit = 10

// FavoriteStore is the favorite set the API toggles.
type FavoriteStore interface {
	IsFavorite(ctx context.Context, name string) (bool, error)
	Toggle(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// Server holds dependencies for the HTTP API.
type Server struct {
	agg       *aggregator.Aggregator
	sources   store.SourceStore
	favorites FavoriteStore // nil when the source store has no favorite set
	policy    *filter.Policy
	logger    zerolog.Logger
	addr      string
	router    chi.Router
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithFavorites(f FavoriteStore) Option {
	return func(s *Server) { s.favorites = f }
}

// New creates a Server listening on :port and registers routes.
func New(agg *aggregator.Aggregator, sources store.SourceStore, policy *filter.Policy, port string, opts ...Option) *Server {
	s := &Server{
		agg:     agg,
		sources: sources,
		policy:  policy,
		logger:  xlog.WithComponent("server"),
		addr:    ":" + port,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(withCORS)
	r.Use(s.withLogging)

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/sources", func(r chi.Router) {
		r.Get("/", s.handleListSources)
		r.Post("/", s.handleAddSource)
		r.Delete("/", s.handleRemoveSource)
		r.Post("/reset", s.handleResetSources)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(RefreshLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "60")
				writeErr(w, s.logger, http.StatusTooManyRequests, errors.New("too many refresh requests"))
			}),
		))
		r.Post("/api/refresh", s.handleRefresh)
		r.Post("/api/refresh/single", s.handleRefreshSingle)
	})

	r.Get("/api/catalog", s.handleCatalog)
	r.Get("/api/channels", s.handleChannels)
	r.Get("/api/categories", s.handleCategories)
	r.Get("/api/export.m3u", s.handleExport)
	r.Get("/api/resolve", s.handleResolve)

	r.Get("/api/favorites", s.handleListFavorites)
	r.Post("/api/favorites", s.handleToggleFavorite)

	r.Get("/api/blocklist", s.handleBlocklist)
	r.Post("/api/blocklist", s.handleBlockCategory)
	r.Delete("/api/blocklist", s.handleUnblockCategory)

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server. It blocks until the server is shut
// down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.addr,
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	s.logger.Info().Str(xlog.FieldEvent, "server.listen").Str("addr", s.addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}
