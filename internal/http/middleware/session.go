package middleware

import (
	"context"
	"net/http"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	apierrors "github.com/pribylovaa/lawfirm-bff/internal/errors"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
	"github.com/pribylovaa/lawfirm-bff/internal/session"
)

type ctxKey string

const (
	ctxAccessToken ctxKey = "access_token"
	ctxUser        ctxKey = "user"
)

// SessionRelay — часть session.Relay, нужная мидлварам.
type SessionRelay interface {
	EnsureAccess(ctx context.Context, t session.Tokens) (string, bool, error)
	Resolve(ctx context.Context, t session.Tokens) session.Resolution
}

// AccessTokenFrom возвращает access-токен, положенный Session.
func AccessTokenFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxAccessToken).(string)
	return v, ok && v != ""
}

// UserFrom возвращает пользователя, положенного RequireUser.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(ctxUser).(*models.User)
	return u, ok && u != nil
}

// Session достаёт access-токен из cookie (при его отсутствии делает refresh
// и обновляет cookie) и кладёт его в контекст. Запрос без сессии проходит
// дальше без токена: решать, нужен ли он, будет обработчик.
func Session(relay SessionRelay, cookies *session.CookiePolicy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, refreshed, err := relay.EnsureAccess(r.Context(), cookies.TokensFromRequest(r))
			if err == nil {
				if refreshed {
					cookies.SetAccess(w, access)
				}
				r = r.WithContext(context.WithValue(r.Context(), ctxAccessToken, access))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser пропускает только аутентифицированные запросы и кладёт
// пользователя (и актуальный access-токен) в контекст. Иначе 401.
func RequireUser(relay SessionRelay, cookies *session.CookiePolicy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokens := cookies.TokensFromRequest(r)
			res := relay.Resolve(r.Context(), tokens)

			access := tokens.Access
			if res.AccessToken != "" {
				cookies.SetAccess(w, res.AccessToken)
				access = res.AccessToken
			}

			if !res.Authenticated() {
				apierrors.WriteError(w, r, autherr.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxUser, res.User)
			ctx = context.WithValue(ctx, ctxAccessToken, access)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
