// Package service implements the preview orchestrators: cache lookup,
// browser rendering on a miss, and sequential batch processing.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/link-preview/internal/browser"
	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/extract"
	"github.com/JakeFAU/link-preview/internal/metrics"
	"github.com/JakeFAU/link-preview/internal/preview"
	"github.com/JakeFAU/link-preview/internal/telemetry"
)

// Cache is the record store the orchestrator reads and writes.
type Cache interface {
	Get(ctx context.Context, key string) (preview.Record, bool, error)
	Put(ctx context.Context, key string, rec preview.Record, ttl time.Duration) error
	RefreshTTL(ctx context.Context, key string, ttl time.Duration) error
}

// Config controls Service behavior.
type Config struct {
	// TTL is the lifetime given to new and refreshed entries.
	TTL time.Duration
	// RefreshTimeout bounds the background TTL refresh after a hit.
	RefreshTimeout time.Duration
	MaxBatch       int
	// SingleFlight coalesces concurrent renders of the same URL.
	SingleFlight bool
}

// Service resolves URLs to preview records.
type Service struct {
	cache    Cache
	launcher browser.Launcher
	cfg      Config
	logger   *zap.Logger

	group     singleflight.Group
	refreshes sync.WaitGroup
}

// New constructs a Service.
func New(c Cache, launcher browser.Launcher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = cache.DefaultTTL
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 5 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 10
	}
	return &Service{
		cache:    c,
		launcher: launcher,
		cfg:      cfg,
		logger:   logger.Named("service"),
	}
}

// GetOrGenerate returns the cached record for raw, rendering and caching it
// on a miss. The render is not canceled when ctx is; only the browser
// timeouts bound it.
func (s *Service) GetOrGenerate(ctx context.Context, raw string) (preview.Result, error) {
	normalized, err := preview.NormalizeURL(raw)
	if err != nil {
		metrics.ObservePreview("invalid")
		return preview.Result{}, err
	}
	return s.lookup(ctx, normalized)
}

// Wait blocks until background TTL refreshes have finished.
func (s *Service) Wait() {
	s.refreshes.Wait()
}

func (s *Service) lookup(ctx context.Context, normalized string) (res preview.Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "preview.lookup")
	span.SetAttributes(attribute.String("url.full", normalized))
	defer func() {
		span.SetAttributes(attribute.Bool("preview.from_cache", res.FromCache))
		telemetry.RecordError(span, err)
		span.End()
	}()

	key := cache.EncodeKey(normalized)
	logger := s.logger.With(zap.String("url", normalized))
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With(zap.String("trace_id", traceID))
	}

	rec, found, err := s.cache.Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrCorruptEntry):
		logger.Warn("discarding corrupt cache entry", zap.Error(err))
	case err != nil:
		metrics.ObservePreview("error")
		return preview.Result{}, classify(err, preview.KindUnknown)
	case found:
		metrics.ObservePreview("hit")
		logger.Debug("cache hit")
		s.refreshAsync(ctx, key)
		return preview.Result{Record: rec, FromCache: true}, nil
	}

	logger.Debug("cache miss")
	rec, err = s.render(context.WithoutCancel(ctx), key, normalized)
	if err != nil {
		metrics.ObservePreview("error")
		logger.Error("preview generation failed", zap.Error(err))
		return preview.Result{}, err
	}
	metrics.ObservePreview("miss")
	return preview.Result{Record: rec}, nil
}

func (s *Service) refreshAsync(ctx context.Context, key string) {
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefreshTimeout)
	s.refreshes.Add(1)
	go func() {
		defer s.refreshes.Done()
		defer cancel()
		if err := s.cache.RefreshTTL(refreshCtx, key, s.cfg.TTL); err != nil {
			s.logger.Warn("cache ttl refresh failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// render generates and stores a record, optionally sharing the work with
// concurrent callers for the same key.
func (s *Service) render(ctx context.Context, key, normalized string) (preview.Record, error) {
	if !s.cfg.SingleFlight {
		return s.generateAndStore(ctx, key, normalized)
	}
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.generateAndStore(ctx, key, normalized)
	})
	if shared {
		s.logger.Debug("joined in-flight render", zap.String("url", normalized))
	}
	if err != nil {
		return preview.Record{}, err
	}
	rec, ok := v.(preview.Record)
	if !ok {
		return preview.Record{}, fmt.Errorf("unexpected render result %T", v)
	}
	return rec, nil
}

func (s *Service) generateAndStore(ctx context.Context, key, normalized string) (preview.Record, error) {
	rec, err := s.generate(ctx, normalized)
	if err != nil {
		return preview.Record{}, classify(err, preview.KindGeneration)
	}
	if err := s.cache.Put(ctx, key, rec, s.cfg.TTL); err != nil {
		return preview.Record{}, classify(err, preview.KindUnknown)
	}
	return rec, nil
}

// generate runs one browser session. The session is closed on every path; a
// close failure is reported without replacing the original error.
func (s *Service) generate(ctx context.Context, target string) (rec preview.Record, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "browser.render")
	span.SetAttributes(attribute.String("url.full", target))
	start := time.Now()
	defer func() {
		metrics.ObserveRender(time.Since(start))
		span.SetAttributes(attribute.Bool("preview.screenshot", rec.IsScreenshot))
		telemetry.RecordError(span, err)
		span.End()
	}()

	session, err := s.launcher.Launch(ctx)
	if err != nil {
		return preview.Record{}, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Error("failed to close browser session", zap.String("url", target), zap.Error(cerr))
			if err != nil {
				err = errors.Join(err, cerr)
			}
		}
	}()

	if err := session.Navigate(ctx, target); err != nil {
		return preview.Record{}, err
	}

	page, err := session.Snapshot(ctx)
	if err != nil {
		return preview.Record{}, err
	}
	if page.URL == "" {
		page.URL = target
	}
	rec = extract.Extract(page)

	if rec.Image == "" {
		shot, err := session.Screenshot(ctx)
		if err != nil {
			return preview.Record{}, err
		}
		rec.Image = extract.ScreenshotDataURI(shot)
		rec.IsScreenshot = true
		metrics.ObserveScreenshotFallback()
	}
	return rec, nil
}

// classify attaches a client-facing kind to err based on its sentinel. Errors
// that already carry a kind pass through unchanged.
func classify(err error, fallback preview.Kind) error {
	var perr *preview.Error
	if errors.As(err, &perr) {
		return err
	}
	kind := fallback
	switch {
	case errors.Is(err, browser.ErrNavigation):
		kind = preview.KindNavigation
	case errors.Is(err, browser.ErrLaunch), errors.Is(err, browser.ErrGeneration):
		kind = preview.KindGeneration
	case errors.Is(err, cache.ErrUnavailable):
		kind = preview.KindCacheUnavailable
	}
	return preview.Wrap(kind, err)
}
