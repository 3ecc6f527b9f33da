package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/metrics"
)

const readyPollInterval = 100 * time.Millisecond

// pageDriver is the part of a browser page the retry loop needs.
type pageDriver interface {
	// load navigates and returns once DOMContentLoaded has fired.
	load(ctx context.Context, url string) error
	// textLength returns the trimmed length of document.body.innerText.
	textLength(ctx context.Context) (int, error)
}

type navigator struct {
	driver       pageDriver
	opts         Options
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

func newNavigator(driver pageDriver, opts Options, logger *zap.Logger) navigator {
	return navigator{
		driver:       driver,
		opts:         opts,
		pollInterval: readyPollInterval,
		sleep:        sleepContext,
		logger:       logger,
	}
}

// navigate retries load with a fixed delay. Once a load succeeds it waits up
// to ReadyTimeout for visible text; running out of time there is not an error.
func (n navigator) navigate(ctx context.Context, target string) error {
	var (
		lastErr  error
		attempts int
	)
	for attempts < n.opts.NavAttempts {
		attempts++
		err := n.attempt(ctx, target)
		if err == nil {
			metrics.ObserveNavigationAttempt("success")
			n.waitReady(ctx, target)
			return nil
		}
		metrics.ObserveNavigationAttempt("failure")
		lastErr = err
		n.logger.Warn("navigation attempt failed",
			zap.String("url", target),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", n.opts.NavAttempts),
			zap.Error(err),
		)
		if attempts == n.opts.NavAttempts {
			break
		}
		if err := n.sleep(ctx, n.opts.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrNavigation, attempts, lastErr)
}

func (n navigator) attempt(ctx context.Context, target string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, n.opts.NavTimeout)
	defer cancel()
	return n.driver.load(attemptCtx, target)
}

func (n navigator) waitReady(ctx context.Context, target string) {
	if n.opts.ReadyTimeout <= 0 {
		return
	}
	readyCtx, cancel := context.WithTimeout(ctx, n.opts.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		length, err := n.driver.textLength(readyCtx)
		if err == nil && length > n.opts.ReadyMinChars {
			return
		}
		select {
		case <-readyCtx.Done():
			n.logger.Debug("page content not ready, continuing",
				zap.String("url", target),
				zap.Int("text_length", length),
				zap.Duration("waited", n.opts.ReadyTimeout),
			)
			return
		case <-ticker.C:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
