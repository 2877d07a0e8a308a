package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimit 限制同一客户端在固定窗口内的请求数量。
// 客户端以 API Key 区分，未鉴权时退回到远端 IP（由 chi 的 RealIP 中间件还原）。
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return passthrough
	}

	limiter := newWindowLimiter(maxRequests, window, time.Now)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(clientKey(r))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// 超过该数量的客户端时清理过期窗口
const limiterSweepThreshold = 1024

type windowLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientWindow
	maxRequests int
	length      time.Duration
	now         func() time.Time
}

type clientWindow struct {
	count   int
	expires time.Time
}

func newWindowLimiter(maxRequests int, length time.Duration, now func() time.Time) *windowLimiter {
	return &windowLimiter{
		clients:     make(map[string]*clientWindow),
		maxRequests: maxRequests,
		length:      length,
		now:         now,
	}
}

// Allow 记录一次请求；被拒绝时返回距窗口结束的时间。
func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[key]
	if !ok || !now.Before(entry.expires) {
		if len(l.clients) >= limiterSweepThreshold {
			l.sweepLocked(now)
		}
		l.clients[key] = &clientWindow{count: 1, expires: now.Add(l.length)}
		return true, 0
	}

	if entry.count >= l.maxRequests {
		return false, entry.expires.Sub(now)
	}
	entry.count++
	return true, 0
}

func (l *windowLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.clients {
		if !now.Before(entry.expires) {
			delete(l.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	if key := ClientFromContext(r.Context()); key != "" {
		return "key:" + key
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
