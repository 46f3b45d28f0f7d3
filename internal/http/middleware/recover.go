package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	apierrors "github.com/pribylovaa/lawfirm-bff/internal/errors"
	logctx "github.com/pribylovaa/lawfirm-bff/internal/pkg/log"
)

// Recover превращает panic в 500 с общим сообщением.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}

					logctx.From(r.Context()).
						LogAttrs(r.Context(), slog.LevelError, "panic",
							slog.String("path", r.URL.Path),
							slog.Any("reason", rec),
						)
					apierrors.WriteError(w, r, autherr.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
