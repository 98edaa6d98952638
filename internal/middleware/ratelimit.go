package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/openclaw/crm-sync-server/internal/audit"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/httputil"
	"github.com/openclaw/crm-sync-server/internal/service"
)

// IPRateLimitMiddleware limits requests per client address. It expects
// chi's RealIP middleware to have normalized RemoteAddr.
type IPRateLimitMiddleware struct {
	limiter service.RateLimiter
	now     func() time.Time
}

func NewIPRateLimitMiddleware(limiter service.RateLimiter) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{limiter: limiter, now: time.Now}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		allowed, resetAt := m.limiter.Allow(r.Context(), ip)
		if !allowed {
			secondsLeft := int(resetAt.Sub(m.now()).Seconds()) + 1
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secondsLeft))
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed})
			httputil.WriteError(w, apperrors.RateLimitExceeded())
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
