package fetcher

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tractkit/internal/fault"
)

// HTTPOptions configures the HTTP transport.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSec is the steady request rate allowed per host. Default: 5.
	RatePerSec float64
	// MaxAttempts is the total number of attempts per request. Default: 1,
	// which disables retries.
	MaxAttempts int
	// BreakerThreshold is the number of consecutive failed requests to one
	// host before further requests fail fast. Default: 5.
	BreakerThreshold int
	// BreakerReset is how long a tripped host is skipped. Default: 30s.
	BreakerReset time.Duration
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher is a rate-limited http doer used as the portal transport.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	breakers map[string]*CircuitBreaker
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tractkit/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := int(math.Ceil(f.opts.RatePerSec))
		lim = NewAdaptiveLimiter(rate.Limit(f.opts.RatePerSec), burst)
		f.limiters[host] = lim
	}
	return lim
}

func (f *HTTPFetcher) breakerFor(host string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(f.opts.BreakerThreshold, f.opts.BreakerReset)
		f.breakers[host] = cb
	}
	return cb
}

// Do sends req, waiting on the per-host limiter. Status 429 and 5xx are
// retried only when MaxAttempts > 1; the last response is returned as-is.
// Transport errors and 5xx responses count against the host's circuit
// breaker; while it is open Do returns a fault.Connection error wrapping
// ErrCircuitOpen without sending anything.
func (f *HTTPFetcher) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	lim := f.limiterFor(req.URL.Host)
	cb := f.breakerFor(req.URL.Host)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	var lastErr error
	for attempt := range f.opts.MaxAttempts {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		attemptReq := req.Clone(ctx)
		if req.GetBody != nil && attempt > 0 {
			body, err := req.GetBody()
			if err != nil {
				return nil, eris.Wrap(err, "rewind request body")
			}
			attemptReq.Body = body
		}

		if err := cb.Allow(); err != nil {
			zap.L().Warn("circuit open, request rejected", zap.String("host", req.URL.Host))
			return nil, fault.Wrap(err, fault.Connection, "fetcher.http")
		}

		last := attempt == f.opts.MaxAttempts-1
		resp, err := f.client.Do(attemptReq)
		cb.Record(err != nil || resp.StatusCode >= 500)
		if err != nil {
			lastErr = err
			if last {
				break
			}
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && !last {
			_ = resp.Body.Close()
			zap.L().Warn("retryable status, backing off",
				zap.String("url", req.URL.Redacted()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode < 400 {
			lim.OnSuccess()
		}
		return resp, nil
	}

	return nil, eris.Wrapf(lastErr, "http: %s %s", req.Method, req.URL.Redacted())
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := min(time.Duration(float64(base)*math.Pow(2, float64(attempt))), maxBackoff)
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d += jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
