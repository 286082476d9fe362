package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// Fetch circuit breaker settings. Regulatory endpoints are slow-moving,
// so the breaker stays open longer than it would for a latency-critical
// dependency.
const (
	fetchMinRequests     = 3               // Minimum requests before tripping
	fetchFailureRatio    = 0.6             // Failure ratio threshold (60%)
	fetchOpenTimeout     = 2 * time.Minute // How long circuit stays open
	fetchHalfOpenMaxReqs = 1               // Max requests in half-open state
	fetchCountInterval   = 5 * time.Minute // Window for counting failures

	// Response bodies above this are truncated before parsing.
	maxBodyBytes = 10 << 20
)

// FetchResult carries the outcome of a single source fetch.
type FetchResult struct {
	Success    bool
	Body       string
	StatusCode int
	Err        error
}

// Fetcher retrieves source payloads over HTTP with per-host rate
// limiting and per-host circuit breaking, so one misbehaving regulator
// endpoint cannot starve or poison the rest of the sweep.
type Fetcher struct {
	client  *http.Client
	log     zerolog.Logger
	perHost rate.Limit
	burst   int

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// NewFetcher builds a fetcher from the monitor configuration.
func NewFetcher(cfg config.MonitorConfig) *Fetcher {
	timeout := cfg.FetchTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "fetcher").Logger(),
		perHost:  rate.Limit(float64(rpm) / 60.0),
		burst:    1,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves the payload at rawURL. The error inside the result is
// also returned so callers can branch without unpacking.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		res := FetchResult{Err: err}
		return res, err
	}

	if err := f.limiterFor(host).Wait(ctx); err != nil {
		res := FetchResult{Err: err}
		return res, err
	}

	out, err := f.breakerFor(host).Execute(func() (interface{}, error) {
		return f.doFetch(ctx, rawURL)
	})
	if err != nil {
		res := FetchResult{Err: err}
		if fr, ok := out.(FetchResult); ok {
			res.StatusCode = fr.StatusCode
		}
		return res, err
	}

	return out.(FetchResult), nil
}

// doFetch performs the HTTP round trip. Non-2xx statuses count as
// breaker failures.
func (f *Fetcher) doFetch(ctx context.Context, rawURL string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{Err: err}, err
	}
	req.Header.Set("User-Agent", "regulens/"+config.Version)
	req.Header.Set("Accept", "application/rss+xml, application/json, text/html;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{Err: err}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
		return FetchResult{StatusCode: resp.StatusCode, Err: err}, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return FetchResult{StatusCode: resp.StatusCode, Err: err}, err
	}

	return FetchResult{Success: true, Body: string(raw), StatusCode: resp.StatusCode}, nil
}

// limiterFor returns the host's rate limiter, creating it on first use.
func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.perHost, f.burst)
		f.limiters[host] = lim
	}
	return lim
}

// breakerFor returns the host's circuit breaker, creating it on first use.
func (f *Fetcher) breakerFor(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        host,
			MaxRequests: fetchHalfOpenMaxReqs,
			Interval:    fetchCountInterval,
			Timeout:     fetchOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= fetchMinRequests && failureRatio >= fetchFailureRatio
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				metrics.SetCircuitBreakerState(name, to.String())
				if to == gobreaker.StateOpen {
					metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
				}
				f.log.Warn().
					Str("host", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Fetch circuit breaker state changed")
			},
		})
		f.breakers[host] = cb
	}
	return cb
}

// hostOf extracts the host key for limiter and breaker lookup. URLs
// without a scheme and host are rejected before any network work.
func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid source url %q: missing scheme or host", rawURL)
	}
	return u.Host, nil
}
