package server

import (
	"log"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lazypower/heatmap/internal/metrics"
)

// maxLimiters bounds the per-client table; it is reset when exceeded.
const maxLimiters = 10000

// rateLimiter hands out one token bucket per client address.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// get returns the limiter for key, creating it on first use.
func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// fresh returns an unshared limiter, used per websocket connection.
func (rl *rateLimiter) fresh() *rate.Limiter {
	return rate.NewLimiter(rl.rate, rl.burst)
}

// Handler rejects requests over the client's budget with 429.
func (rl *rateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.get(clientKey(r)).Allow() {
			metrics.EventsTotal.WithLabelValues(metrics.ResultLimited).Inc()
			log.Printf("server: rate limit exceeded for %s on %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the client host without its port, so fresh TCP connections
// from one address share a bucket. RealIP has already replaced RemoteAddr
// when a proxy header was present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
