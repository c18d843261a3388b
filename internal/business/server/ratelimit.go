package server

import (
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/serviceerr"
)

// idleLimiterTTL is how long the limiter of a silent client is kept.
const idleLimiterTTL = 10 * time.Minute

// loginLimiter throttles login initiations per client address with a token
// bucket.
type loginLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
}

// newLoginLimiter returns nil when rate limiting is disabled.
func newLoginLimiter(cfg config.RateLimit) *loginLimiter {
	if !cfg.Enabled {
		return nil
	}

	return &loginLimiter{
		limiters: cache.New(idleLimiterTTL, idleLimiterTTL),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
	}
}

func (l *loginLimiter) allow(client string) bool {
	if item, ok := l.limiters.Get(client); ok {
		limiter := item.(*rate.Limiter)
		l.limiters.SetDefault(client, limiter)

		return limiter.Allow()
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(client, limiter, cache.DefaultExpiration); err != nil {
		// another request created it first
		if item, ok := l.limiters.Get(client); ok {
			limiter = item.(*rate.Limiter)
		}
	}

	return limiter.Allow()
}

func (l *loginLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddress(r)
		if !l.allow(client) {
			slogctx.Warn(r.Context(), "Login rate limit exceeded", "client", client)
			writeError(r.Context(), w, serviceerr.ErrTooManyLoginAttempts)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
