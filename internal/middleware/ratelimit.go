package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/rs/zerolog"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	requests map[string]*clientLimit
	mu       sync.Mutex
	limit    int
	window   time.Duration
	key      KeyFunc
	now      func() time.Time
	logger   zerolog.Logger
}

type clientLimit struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration, key KeyFunc, logger zerolog.Logger) *RateLimiter {
	if key == nil {
		key = ByUserOrIP
	}
	return &RateLimiter{
		requests: make(map[string]*clientLimit),
		limit:    limit,
		window:   window,
		key:      key,
		now:      time.Now,
		logger:   logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Run evicts expired windows until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

func (rl *RateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, cl := range rl.requests {
		if now.After(cl.resetTime) {
			delete(rl.requests, key)
		}
	}
}

// Allow counts one request for key and reports whether it fits the window,
// plus how long until the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, exists := rl.requests[key]

	if !exists || now.After(cl.resetTime) {
		rl.requests[key] = &clientLimit{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true, 0
	}

	if cl.count >= rl.limit {
		return false, cl.resetTime.Sub(now)
	}

	cl.count++
	return true, 0
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.key(r)

		ok, wait := rl.Allow(key)
		if !ok {
			rl.logger.Warn().Str("key", key).Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"message":"Too many submissions, please slow down"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ByUserOrIP keys authenticated requests by user and the rest by client IP.
func ByUserOrIP(r *http.Request) string {
	if claims := auth.GetUserFromContext(r.Context()); claims != nil {
		return "user:" + claims.UserID()
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the originating address, trusting the first hop of
// X-Forwarded-For when a proxy set it.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
