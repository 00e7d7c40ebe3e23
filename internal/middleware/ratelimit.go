package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures token bucket limiting. With PerClient set each
// remote address gets its own bucket; otherwise one bucket is shared.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	PerClient bool
}

// RateLimitMiddleware rejects requests beyond the configured rate with 429
// and a Retry-After header.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	pool := newLimiterPool(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait := pool.reserve(r); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

type limiterPool struct {
	limit     rate.Limit
	burst     int
	perClient bool
	shared    *rate.Limiter

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newLimiterPool(cfg RateLimitConfig) *limiterPool {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 || cfg.Burst <= 0 {
		limit = rate.Inf
	}
	return &limiterPool{
		limit:     limit,
		burst:     cfg.Burst,
		perClient: cfg.PerClient,
		shared:    rate.NewLimiter(limit, cfg.Burst),
		clients:   make(map[string]*rate.Limiter),
	}
}

// reserve takes a token for r and returns zero, or returns how long until
// one would be available without consuming anything.
func (p *limiterPool) reserve(r *http.Request) time.Duration {
	now := time.Now()
	res := p.limiterFor(r).ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	wait := res.DelayFrom(now)
	if wait > 0 {
		res.CancelAt(now)
	}
	return wait
}

func (p *limiterPool) limiterFor(r *http.Request) *rate.Limiter {
	if !p.perClient {
		return p.shared
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.clients[host]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.clients[host] = l
	}
	return l
}
