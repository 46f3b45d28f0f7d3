package transport

import (
	"context"
	"net/http"
)

type CtxKey string

const CtxRequestID CtxKey = "request_id"

// WithRequestID кладёт request id в контекст для исходящих вызовов.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxRequestID, id)
}

// RequestIDFrom возвращает request id из контекста или "".
func RequestIDFrom(ctx context.Context) string {
	if v := ctx.Value(CtxRequestID); v != nil {
		if rid, _ := v.(string); rid != "" {
			return rid
		}
	}

	return ""
}

// WithMetadata добавляет в исходящий запрос заголовки:
//   - X-Request-Id (если есть в контексте и не задан явно),
//   - User-Agent (если передан параметром).
//
// Authorization здесь не трогаем: bearer выставляет сам клиент шлюза.
func WithMetadata(userAgent string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			rid := RequestIDFrom(r.Context())
			if rid == "" && userAgent == "" {
				return next.RoundTrip(r)
			}

			out := r.Clone(r.Context())
			if rid != "" && out.Header.Get("X-Request-Id") == "" {
				out.Header.Set("X-Request-Id", rid)
			}

			if userAgent != "" {
				out.Header.Set("User-Agent", userAgent)
			}

			return next.RoundTrip(out)
		})
	}
}
