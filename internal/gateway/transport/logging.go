package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/lawfirm-bff/internal/pkg/log"
)

// WithLogging — логирование исходящих вызовов.
// Поведение:
//   - берёт X-Request-Id из запроса (или генерирует новый и добавляет);
//   - добавляет поля method/path, прокладывает обогащённый логгер в контекст;
//   - пишет одну финальную запись уровня Info: msg="upstream", status, dur
//     (или Warn с err, если ответа нет).
//
// Безопасность: не логирует тело, query и заголовки (Authorization, Cookie).
func WithLogging(base *slog.Logger) Middleware {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()

			out := r
			rid := r.Header.Get("X-Request-Id")
			if rid == "" {
				rid = uuid.NewString()
				out = r.Clone(r.Context())
				out.Header.Set("X-Request-Id", rid)
			}

			l := base.With(
				slog.String("request_id", rid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			out = out.WithContext(log.Into(out.Context(), l))

			resp, err := next.RoundTrip(out)
			if err != nil {
				l.Warn("upstream",
					slog.String("err", err.Error()),
					slog.Duration("dur", time.Since(start)),
				)
				return nil, err
			}

			l.Info("upstream",
				slog.Int("status", resp.StatusCode),
				slog.Duration("dur", time.Since(start)),
			)

			return resp, nil
		})
	}
}
