// Package browser drives headless Chrome through chromedp. Every Launch
// starts a dedicated browser process that lives for one preview.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/link-preview/internal/extract"
)

var (
	// ErrLaunch reports that Chrome could not be started or configured.
	ErrLaunch = errors.New("browser launch failed")
	// ErrNavigation reports that every navigation attempt failed.
	ErrNavigation = errors.New("navigation failed")
	// ErrGeneration reports a failure reading the rendered page.
	ErrGeneration = errors.New("page capture failed")
)

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one browser process with a single page.
type Session interface {
	// Navigate loads url, retrying transient failures, then waits briefly
	// for visible content.
	Navigate(ctx context.Context, url string) error
	// Snapshot captures the rendered DOM at the current location.
	Snapshot(ctx context.Context) (extract.Page, error)
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close terminates the browser. It is safe to call more than once.
	Close() error
}

// Options configures launched sessions.
type Options struct {
	ExecPath       string
	UserAgent      string
	Referer        string
	LaunchTimeout  time.Duration
	NavTimeout     time.Duration
	NavAttempts    int
	RetryDelay     time.Duration
	ReadyTimeout   time.Duration
	ReadyMinChars  int
	ViewportWidth  int
	ViewportHeight int
	ViewportJitter int
	DomainQPS      float64
}

func (o Options) withDefaults() Options {
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = 20 * time.Second
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = 30 * time.Second
	}
	if o.NavAttempts <= 0 {
		o.NavAttempts = 3
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.ReadyTimeout < 0 {
		o.ReadyTimeout = 0
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1366
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 768
	}
	return o
}
