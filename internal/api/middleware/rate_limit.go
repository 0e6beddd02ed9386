package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kubently/kubently/internal/pkg/metrics"
)

// Tiered per-identity rate limits (spec.md §6's abuse-resistance note):
// dispatch is the most expensive/sensitive operation and gets the
// tightest bucket; executor control-plane calls (stream, heartbeat,
// results) get a generous bucket since one executor process issues
// many of them continuously.
const (
	dispatchPerMin = 30
	dispatchBurst  = 10

	executorPerMin = 300
	executorBurst  = 60

	standardPerMin = 120
	standardBurst  = 60
)

type rateLimitTier int

const (
	tierDispatch rateLimitTier = iota
	tierExecutor
	tierStandard
)

func (t rateLimitTier) String() string {
	switch t {
	case tierDispatch:
		return "dispatch"
	case tierExecutor:
		return "executor"
	default:
		return "standard"
	}
}

func (t rateLimitTier) config() (rate.Limit, int) {
	switch t {
	case tierDispatch:
		return rate.Limit(float64(dispatchPerMin) / 60.0), dispatchBurst
	case tierExecutor:
		return rate.Limit(float64(executorPerMin) / 60.0), executorBurst
	default:
		return rate.Limit(float64(standardPerMin) / 60.0), standardBurst
	}
}

func (t rateLimitTier) limitHeader() int {
	switch t {
	case tierDispatch:
		return dispatchPerMin
	case tierExecutor:
		return executorPerMin
	default:
		return standardPerMin
	}
}

func tierForPath(path string) rateLimitTier {
	path = strings.ToLower(path)
	if strings.HasPrefix(path, "/debug/execute") {
		return tierDispatch
	}
	if strings.HasPrefix(path, "/executor/") {
		return tierExecutor
	}
	return tierStandard
}

// perIdentityLimiter tracks a token bucket per (tier, key) pair, where
// key is whatever RateLimit's keyFunc returns (the presented credential
// in cmd/fabric) — bucketing by credential prevents one misbehaving API
// key from exhausting another's quota behind a shared NAT/ingress.
type perIdentityLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPerIdentityLimiter() *perIdentityLimiter {
	return &perIdentityLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *perIdentityLimiter) get(key string, tier rateLimitTier) *rate.Limiter {
	limit, burst := tier.config()
	l.mu.Lock()
	defer l.mu.Unlock()
	fullKey := tier.String() + ":" + key
	if lim, ok := l.limiters[fullKey]; ok {
		return lim
	}
	lim := rate.NewLimiter(limit, burst)
	l.limiters[fullKey] = lim
	return lim
}

var defaultLimiter = newPerIdentityLimiter()

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

// RateLimit enforces the tiered per-identity token bucket. keyFunc
// extracts the rate-limit key; when it returns "", the client IP is
// used. It is kept as a parameter so it can run either before or after
// the auth middleware depending on route composition.
func RateLimit(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				key = clientIP(r)
			}
			tier := tierForPath(r.URL.Path)
			limiter := defaultLimiter.get(key, tier)

			reservation := limiter.Reserve()
			if !reservation.OK() || reservation.Delay() > 0 {
				reservation.Cancel()
				metrics.RateLimitRejectionsTotal.WithLabelValues(tier.String()).Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tier.limitHeader()))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"RESOURCE_EXHAUSTED","message":"rate limit exceeded"}}`))
				return
			}

			tokens := int(limiter.Tokens())
			if tokens < 0 {
				tokens = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tier.limitHeader()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))
			next.ServeHTTP(w, r)
		})
	}
}
