// Package fetcher provides the shared outbound HTTP pool used by all stock exchange
// adapters: proxy rotation, per-host request pacing and per-host circuit breaking.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRPS     = 8
	defaultBurst   = 16

	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
)

// ErrTooManyInFlight means: the in-flight request cap was reached and the context expired waiting
var ErrTooManyInFlight = errors.New("too many in-flight requests")

// Proxy is one outbound proxy from the configuration.
type Proxy struct {
	Address  string
	Port     uint16
	User     string
	Password string
}

// URL builds the proxy url, with userinfo when credentials are configured.
func (p Proxy) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: fmt.Sprintf("%v:%v", p.Address, p.Port)}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

// Pool executes upstream requests for every adapter. Requests rotate over the configured
// proxies round-robin, are paced per upstream host and fail fast while a host's circuit
// breaker is open. The pool never retries; callers classify errors and reschedule.
type Pool struct {
	clients []*http.Client
	next    atomic.Uint64

	sem chan struct{}

	rps   float64
	burst int

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker

	debug bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithProxies makes the pool rotate outbound requests over the given proxies.
func WithProxies(proxies []Proxy) Option {
	return func(p *Pool) {
		for _, proxy := range proxies {
			transport := &http.Transport{Proxy: http.ProxyURL(proxy.URL())}
			p.clients = append(p.clients, &http.Client{Timeout: defaultTimeout, Transport: transport})
		}
	}
}

// WithRateLimit overrides the default per-host pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pool) {
		p.rps = rps
		p.burst = burst
	}
}

// WithDebug turns per-request debug logging on.
func WithDebug(debug bool) Option {
	return func(p *Pool) { p.debug = debug }
}

// New constructs a Pool. Without options it uses a single direct client.
func New(opts ...Option) *Pool {
	p := &Pool{
		rps:      defaultRPS,
		burst:    defaultBurst,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.clients) == 0 {
		p.clients = []*http.Client{{Timeout: defaultTimeout}}
	}
	inFlight := 2 * len(p.clients)
	if inFlight < 4 {
		inFlight = 4
	}
	p.sem = make(chan struct{}, inFlight)
	return p
}

// Do executes the request honoring pacing and breaker state for the target host.
// A response with any status code is returned as-is; only transport-level failures,
// 429s and 5xxs count against the host's breaker.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTooManyInFlight, ctx.Err())
	}

	host := req.URL.Host
	if err := p.limiter(host).Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	client := p.clients[p.next.Add(1)%uint64(len(p.clients))]
	result, err := p.breaker(host).Execute(func() (interface{}, error) {
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resp, fmt.Errorf("upstream status %v", resp.StatusCode)
		}
		return resp, nil
	})

	if p.debug {
		ev := log.Debug().Str("requestId", uuid.New().String()[:8]).Str("host", host).
			Str("url", req.URL.String()).Dur("elapsed", time.Since(start))
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("fetcher: upstream request")
	}

	resp, _ := result.(*http.Response)
	if err != nil && resp != nil {
		// Rate-limit and server-side statuses trip the breaker but the response still
		// carries headers the caller needs (e.g. Retry-After).
		return resp, nil
	}
	return resp, err
}

func (p *Pool) limiter(host string) *rate.Limiter {
	p.mu.RLock()
	limiter, exists := p.limiters[host]
	p.mu.RUnlock()
	if exists {
		return limiter
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if limiter, exists := p.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.limiters[host] = limiter
	return limiter
}

func (p *Pool) breaker(host string) *gobreaker.CircuitBreaker {
	p.mu.RLock()
	breaker, exists := p.breakers[host]
	p.mu.RUnlock()
	if exists {
		return breaker
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if breaker, exists := p.breakers[host]; exists {
		return breaker
	}
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).
				Msg("fetcher: circuit breaker state change")
		},
	})
	p.breakers[host] = breaker
	return breaker
}
