package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/cache/memory"
	"github.com/JakeFAU/link-preview/internal/config"
	"github.com/JakeFAU/link-preview/internal/preview"
)

type fakePreviews struct {
	mu      sync.Mutex
	result  preview.Result
	err     error
	batch   []preview.BatchResult
	calls   []string
	batches [][]string
}

func (f *fakePreviews) GetOrGenerate(_ context.Context, raw string) (preview.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, raw)
	return f.result, f.err
}

func (f *fakePreviews) Batch(_ context.Context, urls []string) ([]preview.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, urls)
	if f.err != nil {
		return nil, f.err
	}
	if urls == nil {
		return nil, preview.NewValidationError("URLs are required")
	}
	return f.batch, nil
}

type failingAdmin struct {
	err error
}

func (f failingAdmin) Delete(context.Context, string) error { return f.err }

func (f failingAdmin) ListByPrefix(context.Context, string) ([]cache.Entry, []cache.DecodeFailure, error) {
	return nil, nil, f.err
}

func (f failingAdmin) Stats(context.Context) (string, error) { return "", f.err }

func (f failingAdmin) State() cache.State { return cache.StateDisconnected }

func newManager(t *testing.T) (*cache.Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	mgr := cache.NewManager(store, cache.Options{TTL: time.Hour, ReadyPollInterval: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mgr.WaitReady(ctx))
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, store
}

func newTestServer(t *testing.T, previews PreviewService, admin CacheAdmin, cfg config.Config) http.Handler {
	t.Helper()
	return NewServer(previews, admin, cfg, zap.NewNop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Preview_Succeeds(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	previews := &fakePreviews{result: preview.Result{
		Record: preview.Record{
			Title:    "Example",
			SiteName: "example.com",
			URL:      "https://example.com/",
		},
		FromCache: true,
	}}
	h := newTestServer(t, previews, mgr, config.Config{})

	rec := do(t, h, http.MethodPost, "/preview", `{"url":"example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decodeBody(t, rec)
	require.Equal(t, "Example", body["title"])
	require.Equal(t, "https://example.com/", body["url"])
	require.Equal(t, true, body["fromCache"])
	require.Equal(t, false, body["isScreenshot"])
	require.Equal(t, []string{"example.com"}, previews.calls)
}

func TestServer_Preview_ClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		svcErr  error
		wantMsg string
	}{
		{name: "missing url", body: `{}`, wantMsg: preview.MsgURLRequired},
		{name: "blank url", body: `{"url":"   "}`, wantMsg: preview.MsgURLRequired},
		{name: "malformed json", body: `{"url":`, wantMsg: msgInvalidJSON},
		{
			name:    "invalid url",
			body:    `{"url":"http://"}`,
			svcErr:  &preview.Error{Kind: preview.KindValidation, Msg: preview.MsgInvalidURL, Err: errors.New("empty host")},
			wantMsg: preview.MsgInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mgr, _ := newManager(t)
			h := newTestServer(t, &fakePreviews{err: tt.svcErr}, mgr, config.Config{})

			rec := do(t, h, http.MethodPost, "/preview", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tt.wantMsg, decodeBody(t, rec)["error"])
		})
	}
}

func TestServer_Preview_GenerationFailure(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	svcErr := preview.Wrap(preview.KindNavigation, errors.New("navigation failed after 3 attempts: timeout"))
	h := newTestServer(t, &fakePreviews{err: svcErr}, mgr, config.Config{})

	rec := do(t, h, http.MethodPost, "/preview", `{"url":"https://slow.example"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, preview.MsgGenerationFailed, body["error"])
	require.Equal(t, string(preview.KindNavigation), body["type"])
	require.Contains(t, body["details"], "navigation failed after 3 attempts")
}

func TestServer_Previews_AcceptsStringOrArray(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "array", body: `{"urls":["a.com","b.com"]}`, want: []string{"a.com", "b.com"}},
		{name: "single string", body: `{"urls":"a.com"}`, want: []string{"a.com"}},
		{name: "empty array", body: `{"urls":[]}`, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mgr, _ := newManager(t)
			previews := &fakePreviews{batch: []preview.BatchResult{{URL: "https://a.com/"}}}
			h := newTestServer(t, previews, mgr, config.Config{})

			rec := do(t, h, http.MethodPost, "/previews", tt.body)

			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, previews.batches, 1)
			require.Equal(t, tt.want, previews.batches[0])
		})
	}
}

func TestServer_Previews_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "missing urls", body: `{}`, wantMsg: "URLs are required"},
		{name: "null urls", body: `{"urls":null}`, wantMsg: "URLs are required"},
		{name: "empty string", body: `{"urls":""}`, wantMsg: "URLs are required"},
		{name: "wrong type", body: `{"urls":42}`, wantMsg: msgInvalidURLsField},
		{name: "mixed array", body: `{"urls":["a.com",1]}`, wantMsg: msgInvalidURLsField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mgr, _ := newManager(t)
			h := newTestServer(t, &fakePreviews{}, mgr, config.Config{})

			rec := do(t, h, http.MethodPost, "/previews", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tt.wantMsg, decodeBody(t, rec)["error"])
		})
	}
}

func TestServer_Previews_ReturnsEntries(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	fromCache := false
	previews := &fakePreviews{batch: []preview.BatchResult{
		{URL: "https://a.com/", Data: &preview.Record{Title: "A", URL: "https://a.com/"}, FromCache: &fromCache},
		{URL: "https://not a url", Error: preview.MsgInvalidURL, Type: string(preview.KindValidation)},
	}}
	h := newTestServer(t, previews, mgr, config.Config{})

	rec := do(t, h, http.MethodPost, "/previews", `{"urls":["a.com","not a url"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, false, out[0]["fromCache"])
	require.NotContains(t, out[0], "error")
	require.Equal(t, preview.MsgInvalidURL, out[1]["error"])
	require.NotContains(t, out[1], "data")
}

func TestServer_ClearCache(t *testing.T) {
	t.Parallel()

	mgr, store := newManager(t)
	ctx := context.Background()
	key := cache.EncodeKey("https://example.com/")
	require.NoError(t, mgr.Put(ctx, key, preview.Record{URL: "https://example.com/"}, time.Hour))
	h := newTestServer(t, &fakePreviews{}, mgr, config.Config{})

	rec := do(t, h, http.MethodDelete, "/cache", `{"url":"EXAMPLE.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cache cleared", decodeBody(t, rec)["status"])
	_, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestServer_ClearCache_Errors(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	h := newTestServer(t, &fakePreviews{}, mgr, config.Config{})

	rec := do(t, h, http.MethodDelete, "/cache", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, preview.MsgURLRequired, decodeBody(t, rec)["error"])

	rec = do(t, h, http.MethodDelete, "/cache", `{"url":"http://"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, preview.MsgInvalidURL, decodeBody(t, rec)["error"])

	down := newTestServer(t, &fakePreviews{}, failingAdmin{err: cache.ErrUnavailable}, config.Config{})
	rec = do(t, down, http.MethodDelete, "/cache", `{"url":"example.com"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, string(preview.KindCacheUnavailable), decodeBody(t, rec)["type"])
}

func TestServer_CacheStats(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	h := newTestServer(t, &fakePreviews{}, mgr, config.Config{})

	rec := do(t, h, http.MethodGet, "/cache-stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	require.Contains(t, rec.Body.String(), "# Keyspace")

	down := newTestServer(t, &fakePreviews{}, failingAdmin{err: errors.New("boom")}, config.Config{})
	rec = do(t, down, http.MethodGet, "/cache-stats", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_CacheKeys(t *testing.T) {
	t.Parallel()

	mgr, store := newManager(t)
	ctx := context.Background()
	h := newTestServer(t, &fakePreviews{}, mgr, config.Config{})

	rec := do(t, h, http.MethodGet, "/cache-keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "No cache keys found", decodeBody(t, rec)["message"])

	for _, u := range []string{"https://b.com/", "https://a.com/"} {
		require.NoError(t, mgr.Put(ctx, cache.EncodeKey(u), preview.Record{URL: u, Title: u}, time.Hour))
	}
	require.NoError(t, store.Set(ctx, "unrelated", []byte("x"), time.Hour))

	rec = do(t, h, http.MethodGet, "/cache-keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []struct {
		Key   string         `json:"key"`
		Value preview.Record `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.True(t, strings.HasPrefix(e.Key, cache.KeyPrefix))
		require.NotEmpty(t, e.Value.URL)
	}
}

func TestServer_CacheKeys_Failures(t *testing.T) {
	t.Parallel()

	mgr, store := newManager(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, cache.EncodeKey("https://a.com/"), []byte("{not json"), time.Hour))
	h := newTestServer(t, &fakePreviews{}, mgr, config.Config{})

	rec := do(t, h, http.MethodGet, "/cache-keys", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, msgCacheKeysFailed, decodeBody(t, rec)["error"])

	down := newTestServer(t, &fakePreviews{}, failingAdmin{err: fmt.Errorf("%w: keys", cache.ErrUnavailable)}, config.Config{})
	rec = do(t, down, http.MethodGet, "/cache-keys", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, msgCacheKeysFailed, body["error"])
	require.NotEmpty(t, body["details"])
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	rec := do(t, newTestServer(t, &fakePreviews{}, mgr, config.Config{}), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newTestServer(t, &fakePreviews{}, failingAdmin{}, config.Config{}), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, newTestServer(t, &fakePreviews{}, failingAdmin{}, config.Config{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	previews := &fakePreviews{result: preview.Result{Record: preview.Record{URL: "https://example.com/"}}}
	h := newTestServer(t, previews, mgr, cfg)

	rec := do(t, h, http.MethodPost, "/preview", `{"url":"example.com"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{"url":"example.com"}`))
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code)

	rec = do(t, h, http.MethodPost, "/preview?api_key=secret", `{"url":"example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_BodyLimit(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	cfg := config.Config{Server: config.ServerConfig{MaxBodyBytes: 16}}
	previews := &fakePreviews{}
	h := newTestServer(t, previews, mgr, cfg)

	rec := do(t, h, http.MethodPost, "/preview", `{"url":"https://example.com/a/very/long/path"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, previews.calls)
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	h := newTestServer(t, &fakePreviews{}, mgr, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}
