package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/browser"
	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/cache/memory"
	"github.com/JakeFAU/link-preview/internal/extract"
	"github.com/JakeFAU/link-preview/internal/preview"
)

type fakeSession struct {
	page        extract.Page
	navErr      error
	snapErr     error
	shot        []byte
	shotErr     error
	closeErr    error
	navDelay    time.Duration
	closed      atomic.Int32
	screenshots atomic.Int32
}

func (f *fakeSession) Navigate(ctx context.Context, _ string) error {
	if f.navDelay > 0 {
		select {
		case <-time.After(f.navDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.navErr
}

func (f *fakeSession) Snapshot(context.Context) (extract.Page, error) {
	return f.page, f.snapErr
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	f.screenshots.Add(1)
	return f.shot, f.shotErr
}

func (f *fakeSession) Close() error {
	f.closed.Add(1)
	return f.closeErr
}

type fakeLauncher struct {
	mu       sync.Mutex
	session  func() *fakeSession
	err      error
	launches int
	sessions []*fakeSession
}

func (f *fakeLauncher) Launch(context.Context) (browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	if f.err != nil {
		return nil, f.err
	}
	s := f.session()
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func staticLauncher(page extract.Page) *fakeLauncher {
	return &fakeLauncher{session: func() *fakeSession {
		return &fakeSession{page: page, shot: []byte("png")}
	}}
}

// brokenCache fails every call the way an unreachable store does.
type brokenCache struct{}

var errStoreDown = errors.New("dial tcp: connection refused")

func (brokenCache) Get(context.Context, string) (preview.Record, bool, error) {
	return preview.Record{}, false, errors.Join(cache.ErrUnavailable, errStoreDown)
}

func (brokenCache) Put(context.Context, string, preview.Record, time.Duration) error {
	return errors.Join(cache.ErrUnavailable, errStoreDown)
}

func (brokenCache) RefreshTTL(context.Context, string, time.Duration) error {
	return errors.Join(cache.ErrUnavailable, errStoreDown)
}

func newMemoryManager() (*cache.Manager, *memory.Store) {
	store := memory.New()
	return cache.NewManager(store, cache.Options{TTL: time.Hour}, zap.NewNop()), store
}

func newTestService(c Cache, l browser.Launcher, cfg Config) *Service {
	return New(c, l, cfg, zap.NewNop())
}
