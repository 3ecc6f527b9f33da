package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/extract"
	"github.com/JakeFAU/link-preview/internal/metrics"
)

const (
	textLengthScript = `document.body ? document.body.innerText.trim().length : 0`
	readyStateScript = `document.readyState`
)

// ChromeLauncher starts one headless Chrome process per session.
type ChromeLauncher struct {
	opts    Options
	logger  *zap.Logger
	limiter *hostLimiter
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher creates a launcher. Chrome is not started until Launch.
func NewChromeLauncher(opts Options, logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &ChromeLauncher{
		opts:    opts,
		logger:  logger.Named("browser"),
		limiter: newHostLimiter(opts.DomainQPS),
	}
}

// Launch starts Chrome and prepares a page. Chrome must answer within
// LaunchTimeout or the process is torn down and ErrLaunch returned.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	width, height := viewport(l.opts)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), l.allocatorOptions(width, height)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	setup := chromedp.Tasks{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
	}

	// The first Run starts the process; its context must not carry the
	// launch deadline or the browser dies with it.
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(browserCtx, setup)
	}()

	timer := time.NewTimer(l.opts.LaunchTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-errCh:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", l.opts.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	metrics.IncActiveRenders()
	l.logger.Debug("browser launched", zap.Int("width", width), zap.Int("height", height))

	driver := &chromeDriver{referer: l.opts.Referer}
	return &chromeSession{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		opts:          l.opts,
		nav:           newNavigator(driver, l.opts, l.logger),
		limiter:       l.limiter,
		logger:        l.logger,
	}, nil
}

func (l *ChromeLauncher) allocatorOptions(width, height int) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.IgnoreCertErrors,
		chromedp.Flag("ignore-certificate-errors-spki-list", true),
		chromedp.WindowSize(width, height),
	)
	if l.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.opts.UserAgent))
	}
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	return opts
}

// viewport applies up to ±ViewportJitter pixels to each base dimension.
func viewport(opts Options) (int, int) {
	width, height := opts.ViewportWidth, opts.ViewportHeight
	if j := opts.ViewportJitter; j > 0 {
		width += rand.IntN(2*j+1) - j
		height += rand.IntN(2*j+1) - j
	}
	return max(width, 1), max(height, 1)
}

type chromeSession struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	opts          Options
	nav           navigator
	limiter       *hostLimiter
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *chromeSession) Navigate(ctx context.Context, target string) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.limiter.wait(runCtx, target); err != nil {
		return fmt.Errorf("%w: render rate limit: %w", ErrNavigation, err)
	}
	return s.nav.navigate(runCtx, target)
}

func (s *chromeSession) Snapshot(ctx context.Context) (extract.Page, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, s.opts.NavTimeout)
	defer cancelTimeout()

	var location, html string
	if err := chromedp.Run(runCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return extract.Page{}, fmt.Errorf("%w: read dom: %w", ErrGeneration, err)
	}

	snap, err := extract.ParseHTML(location, html)
	if err != nil {
		return extract.Page{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return snap, nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, s.opts.NavTimeout)
	defer cancelTimeout()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("%w: screenshot: %w", ErrGeneration, err)
	}
	return buf, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		err := chromedp.Cancel(s.ctx)
		s.browserCancel()
		s.allocCancel()
		metrics.DecActiveRenders()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
			return
		}
		s.logger.Debug("browser closed")
	})
	return s.closeErr
}

// bind derives a context that carries the browser executor and is canceled
// when either ctx or the browser ends.
func (s *chromeSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

type chromeDriver struct {
	referer string
}

func (d *chromeDriver) load(ctx context.Context, target string) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			nav := page.Navigate(target)
			if d.referer != "" {
				nav = nav.WithReferrer(d.referer)
			}
			_, _, errorText, _, err := nav.Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("page load error %s", errorText)
			}
			return nil
		}),
		waitDOMContentLoaded(),
	)
}

func (d *chromeDriver) textLength(ctx context.Context) (int, error) {
	var n int
	if err := chromedp.Run(ctx, chromedp.Evaluate(textLengthScript, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// waitDOMContentLoaded polls document.readyState until parsing has finished.
func waitDOMContentLoaded() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(readyPollInterval)
		defer ticker.Stop()
		for {
			var state string
			if err := chromedp.Evaluate(readyStateScript, &state).Do(ctx); err == nil && state != "loading" && state != "" {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait for DOMContentLoaded: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	})
}
