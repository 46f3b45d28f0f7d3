package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/pribylovaa/lawfirm-bff/internal/errors"
	"github.com/pribylovaa/lawfirm-bff/internal/metrics"
	logctx "github.com/pribylovaa/lawfirm-bff/internal/pkg/log"
	"github.com/pribylovaa/lawfirm-bff/internal/ratelimit"
)

// RateLimitOptions — параметры RateLimit.
type RateLimitOptions struct {
	Metrics *metrics.Metrics
	// TrustForwardedFor — брать IP из X-Forwarded-For.
	TrustForwardedFor bool
	// RetryAfter — значение заголовка Retry-After; <=0 — не выставлять.
	RetryAfter time.Duration
}

// RateLimit отвечает 429, если лимитер не пропускает IP клиента. l == nil — no-op.
func RateLimit(l ratelimit.Limiter, opts RateLimitOptions) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, opts.TrustForwardedFor)
			if l.Allow(r.Context(), ip) {
				next.ServeHTTP(w, r)
				return
			}

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}

			opts.Metrics.RateLimited(route)
			logctx.From(r.Context()).Info("rate_limited", slog.String("route", route))

			if secs := int(math.Ceil(opts.RetryAfter.Seconds())); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			apierrors.WriteError(w, r, apierrors.ErrRateLimited)
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
