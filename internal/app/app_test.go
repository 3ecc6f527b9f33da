package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/app"
	"github.com/JakeFAU/link-preview/internal/browser"
	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/cache/memory"
	redisstore "github.com/JakeFAU/link-preview/internal/cache/redis"
	"github.com/JakeFAU/link-preview/internal/config"
)

type refusingLauncher struct{}

func (refusingLauncher) Launch(context.Context) (browser.Session, error) {
	return nil, browser.ErrLaunch
}

func testConfig() config.Config {
	return config.Config{
		Cache: config.CacheConfig{
			Store:             config.StoreMemory,
			TTLSeconds:        60,
			ConnectTimeout:    time.Second,
			ReadyPollInterval: time.Millisecond,
		},
		Preview: config.PreviewConfig{MaxBatch: 10},
	}
}

func TestNew_Success(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), zap.NewNop(), app.WithLauncher(refusingLauncher{}))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Equal(t, cache.StateReady, a.Cache().State())
	assert.Equal(t, time.Minute, a.Cache().TTL())
	assert.NotNil(t, a.Service())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_CacheNeverReady(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Close())
	cfg := testConfig()
	cfg.Cache.ConnectTimeout = 20 * time.Millisecond

	_, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithStore(store), app.WithLauncher(refusingLauncher{}))

	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrUnavailable))
}

func TestNewStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	s, err := app.NewStore(config.CacheConfig{Store: config.StoreRedis, RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &redisstore.Store{}, s)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())

	s, err = app.NewStore(config.CacheConfig{Store: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	_, err = app.NewStore(config.CacheConfig{Store: config.StoreRedis, RedisURL: "://bad"})
	require.Error(t, err)

	_, err = app.NewStore(config.CacheConfig{Store: "memcached"})
	require.ErrorContains(t, err, "unknown cache store")
}

func TestBrowserOptions(t *testing.T) {
	t.Parallel()

	opts := app.BrowserOptions(config.BrowserConfig{
		UserAgent:     "agent",
		NavAttempts:   3,
		RetryDelay:    2 * time.Second,
		ViewportWidth: 1366,
		DomainQPS:     1.5,
	})

	assert.Equal(t, "agent", opts.UserAgent)
	assert.Equal(t, 3, opts.NavAttempts)
	assert.Equal(t, 2*time.Second, opts.RetryDelay)
	assert.Equal(t, 1366, opts.ViewportWidth)
	assert.InDelta(t, 1.5, opts.DomainQPS, 0.0001)
}
