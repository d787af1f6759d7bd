package http

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"BobaOrders/internal/ratelimit"
)

// RateLimiter limits requests per client IP. Store errors let the request
// through.
type RateLimiter struct {
	Store  ratelimit.Store
	Limit  int
	Window time.Duration
	Logger *slog.Logger
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		ok, err := l.Store.Allow(r.Context(), key, l.Limit, l.Window)
		if err != nil {
			logger := l.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("rate limit store unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.Window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
