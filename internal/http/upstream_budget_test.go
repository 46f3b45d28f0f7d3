package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/lawfirm-bff/internal/config"
	"github.com/pribylovaa/lawfirm-bff/internal/gateway"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
	"github.com/pribylovaa/lawfirm-bff/internal/session"
)

// newUpstreamRouter — роутер с настоящим gateway поверх httptest-апстрима.
func newUpstreamRouter(t *testing.T, upstream http.HandlerFunc, callTimeout, budget time.Duration) http.Handler {
	t.Helper()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := gateway.New(gateway.Options{BaseURL: srv.URL, Timeout: callTimeout, Logger: logger})
	require.NoError(t, err)

	cookies := session.NewCookiePolicy(config.CookieConfig{
		SameSite:   "strict",
		Path:       "/",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 168 * time.Hour,
	})

	return NewRouter(session.NewRelay(gw, logger, nil), cookies, Options{
		Logger:   logger,
		Timeout:  budget,
		BasePath: "/api",
	})
}

func writeUpstream(w http.ResponseWriter, code int, status string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": "", "status": status, "error": "", "data": data})
}

func meRequest(access, refresh string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/api-auth/me", nil)
	req.AddCookie(cookie(session.CookieAccess, access))
	req.AddCookie(cookie(session.CookieRefresh, refresh))
	return req
}

// Зависший me отпускается по таймауту вызова, а не по бюджету всего запроса.
func TestMe_HungUpstreamBoundedByCallTimeout(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	router := newUpstreamRouter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api-auth/refresh" {
			refreshes.Add(1)
		}
		<-r.Context().Done()
	}, 50*time.Millisecond, 3*time.Second)

	rr := httptest.NewRecorder()
	start := time.Now()
	router.ServeHTTP(rr, meRequest("a", "r"))

	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.JSONEq(t, "null", string(envelope(t, rr).Data))
	require.Zero(t, refreshes.Load())
	require.Empty(t, rr.Result().Cookies())
}

// Каждый шаг me -> refresh -> me близок к таймауту вызова, но вся цепочка
// укладывается в бюджет запроса.
func TestMe_RefreshChainFitsBudget(t *testing.T) {
	t.Parallel()

	const step = 60 * time.Millisecond
	router := newUpstreamRouter(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(step)

		switch r.URL.Path {
		case "/api-auth/me":
			if r.Header.Get("Authorization") != "Bearer new-123" {
				writeUpstream(w, http.StatusUnauthorized, "error", nil)
				return
			}
			writeUpstream(w, http.StatusOK, "success", models.User{ID: 1, Username: "jdoe"})
		case "/api-auth/refresh":
			writeUpstream(w, http.StatusOK, "success", models.RefreshResult{AccessToken: "new-123"})
		default:
			http.NotFound(w, r)
		}
	}, 150*time.Millisecond, 2*time.Second)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, meRequest("expired-abc", "valid-xyz"))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "new-123", resultCookies(rr)[session.CookieAccess].Value)
}
