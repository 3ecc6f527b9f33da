package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/link-preview/internal/metrics"
)

// hostLimiter spaces out renders against the same host. A zero qps disables it.
type hostLimiter struct {
	qps      float64
	limiters sync.Map
}

func newHostLimiter(qps float64) *hostLimiter {
	return &hostLimiter{qps: qps}
}

func (h *hostLimiter) wait(ctx context.Context, rawURL string) error {
	if h == nil || h.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := h.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(h.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(rawURL, waited)
	}
	return nil
}
