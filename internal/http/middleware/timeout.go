package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	apierrors "github.com/pribylovaa/lawfirm-bff/internal/errors"
	logctx "github.com/pribylovaa/lawfirm-bff/internal/pkg/log"
)

// Timeout ограничивает весь запрос бюджетом d: он покрывает цепочку
// me -> refresh -> me целиком. Более ранний дедлайн родителя сохраняется.
// Если обработчик вернулся по дедлайну, ничего не записав, клиент получает
// 504-конверт. d <= 0 делает мидлвар no-op.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := ctx.Deadline(); !ok {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			if sw.written() || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}

			logctx.From(ctx).Warn("request_budget_exceeded",
				slog.String("path", r.URL.Path),
				slog.Duration("budget", d),
			)
			apierrors.WriteError(sw, r, autherr.Wrap(autherr.ErrUpstream, ctx.Err()))
		})
	}
}
