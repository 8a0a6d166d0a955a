package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	rateWindow     = time.Minute
	maxRateClients = 4096
)

// RateLimiter counts writes per client and dataset in fixed windows. The
// least recently seen clients are forgotten once maxKeys is reached.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets *lru.Cache
	now     func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter allows limit writes per window for each key. A limit of
// zero or less disables limiting.
func NewRateLimiter(limit int, window time.Duration, maxKeys int) *RateLimiter {
	cache, err := lru.New(max(maxKeys, 1))
	if err != nil {
		panic(err)
	}
	return &RateLimiter{limit: limit, window: window, buckets: cache, now: time.Now}
}

// Allow records one write for key. When the key is over its limit it
// returns false and the time until the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.buckets.Get(key)
	if !ok || !now.Before(v.(*bucket).resetAt) {
		rl.buckets.Add(key, &bucket{count: 1, resetAt: now.Add(rl.window)})
		return true, 0
	}
	b := v.(*bucket)
	if b.count >= rl.limit {
		return false, b.resetAt.Sub(now)
	}
	b.count++
	return true, 0
}

// Len reports how many keys are tracked.
func (rl *RateLimiter) Len() int {
	return rl.buckets.Len()
}

// withRateLimit limits mutating requests per client IP and dataset.
func (s *Server) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := ip + "|" + r.PathValue("name")
		if ok, wait := s.rateLimiter.Allow(key); !ok {
			logFor(r.Context()).Warn("rate limited", "ip", ip, "path", r.URL.Path)
			secs := int(wait.Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		handler(w, r)
	}
}

// clientIP prefers the first X-Forwarded-For hop over the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
