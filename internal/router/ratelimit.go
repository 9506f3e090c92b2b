package router

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

// DefaultMaxVisitors bounds the number of tracked client IPs.
const DefaultMaxVisitors = 65536

// RateLimiter keeps one token bucket per client IP. Idle buckets are swept
// at most once per sweepEvery; once maxVisitors buckets are live, new IPs
// are refused until a sweep frees room.
type RateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*visitor
	limit       rate.Limit
	burst       int
	idle        time.Duration
	sweepEvery  time.Duration
	lastSweep   time.Time
	maxVisitors int
	now         func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per IP with an equal burst.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{
		limiters:    make(map[string]*visitor),
		limit:       rate.Every(time.Minute / time.Duration(perMinute)),
		burst:       perMinute,
		idle:        10 * time.Minute,
		sweepEvery:  time.Minute,
		maxVisitors: DefaultMaxVisitors,
		now:         time.Now,
	}
}

// Allow reports whether ip may proceed.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.sweepEvery {
		l.sweep(now)
	}
	v, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= l.maxVisitors {
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle visitors; called with mu held.
func (l *RateLimiter) sweep(now time.Time) {
	l.lastSweep = now
	for ip, v := range l.limiters {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.limiters, ip)
		}
	}
}

// Middleware answers 429 once the caller's bucket is empty.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.Allow(ip) {
			e := apperr.ErrRateLimited
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(e.Status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": e.Code, "message": e.Message})
			return
		}
		next.ServeHTTP(w, r)
	})
}
