// Package ratelimit implements a per-host token bucket that caps the request
// rate independently of the fixed politeness delay.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	delays   *prometheus.HistogramVec
}

// Config holds rate limiter configuration. RPS <= 0 means unlimited.
type Config struct {
	RPS   float64
	Burst int
	// Registerer receives the wait-time histogram when set.
	Registerer prometheus.Registerer
}

// New creates a new Limiter.
func New(cfg Config) (*Limiter, error) {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
	if cfg.Registerer != nil {
		l.delays = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poem_crawler_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"})
		if err := cfg.Registerer.Register(l.delays); err != nil {
			return nil, fmt.Errorf("register rate limit collector: %w", err)
		}
	}
	return l, nil
}

// Wait blocks until a token is available for the host of rawURL, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were already available are not worth recording.
	if d := time.Since(start); d > time.Millisecond && l.delays != nil {
		l.delays.WithLabelValues(host).Observe(d.Seconds())
	}
	return nil
}
