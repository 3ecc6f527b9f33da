package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/config"
	"github.com/JakeFAU/link-preview/internal/metrics"
	"github.com/JakeFAU/link-preview/internal/preview"
)

const defaultMaxBodyBytes = 1 << 20

// PreviewService resolves URLs to preview records.
type PreviewService interface {
	GetOrGenerate(ctx context.Context, raw string) (preview.Result, error)
	Batch(ctx context.Context, urls []string) ([]preview.BatchResult, error)
}

// CacheAdmin exposes the cache operations behind the admin routes.
type CacheAdmin interface {
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]cache.Entry, []cache.DecodeFailure, error)
	Stats(ctx context.Context) (string, error)
	State() cache.State
}

var _ CacheAdmin = (*cache.Manager)(nil)

// Server wires HTTP handlers to the preview service and cache.
type Server struct {
	router       chi.Router
	handler      http.Handler
	previews     PreviewService
	cache        CacheAdmin
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewServer constructs a Server with middleware and routes.
func NewServer(previews PreviewService, admin CacheAdmin, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		previews:     previews,
		cache:        admin,
		logger:       logger.Named("api"),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(bodyLimitMiddleware(s.maxBodyBytes))

		r.Post("/preview", s.handlePreview)
		r.Post("/previews", s.handlePreviews)
		r.Delete("/cache", s.handleClearCache)
		r.Get("/cache-stats", s.handleCacheStats)
		r.Get("/cache-keys", s.handleCacheKeys)
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "previewd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	state := s.cache.State()
	if state != cache.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "cache": state.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "cache": state.String()})
}
