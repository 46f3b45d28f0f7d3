package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	"github.com/pribylovaa/lawfirm-bff/internal/metrics"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeEnvelope(w http.ResponseWriter, code int, status, errText string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message": "",
		"status":  status,
		"error":   errText,
		"data":    data,
	})
}

func newClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:   srv.URL + "/",
		Timeout:   2 * time.Second,
		UserAgent: "test-bff",
		Logger:    quietLogger(),
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return c, srv
}

func TestNew_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Options{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestSignIn_OK(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, pathSignIn, r.URL.Path)
		require.Equal(t, "test-bff", r.Header.Get("User-Agent"))
		require.Empty(t, r.Header.Get("Authorization"))

		var in models.SignInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "jdoe", in.Username)

		writeEnvelope(w, http.StatusOK, "success", "", map[string]any{
			"user":         map[string]any{"id": 1, "username": "jdoe"},
			"accessToken":  "acc-1",
			"refreshToken": "ref-1",
		})
	})

	res, err := c.SignIn(context.Background(), models.SignInRequest{Username: " jdoe ", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.User.ID)
	require.Equal(t, "jdoe", res.User.Username)
	require.Equal(t, "acc-1", res.AccessToken)
	require.Equal(t, "ref-1", res.RefreshToken)
}

// Сценарий C: неверный пароль — InvalidCredentials с сообщением апстрима.
func TestSignIn_InvalidCredentials_CarriesUpstreamMessage(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, "error", "Invalid credentials", nil)
	})

	_, err := c.SignIn(context.Background(), models.SignInRequest{Username: "jdoe", Password: "wrong"})
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	require.Equal(t, "Invalid credentials", autherr.Message(err))
}

// status:"error" при HTTP 200 — всё равно отказ.
func TestSignIn_StatusErrorWith200_IsFailure(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "error", "Invalid credentials", map[string]any{"accessToken": "leak"})
	})

	res, err := c.SignIn(context.Background(), models.SignInRequest{Username: "jdoe", Password: "wrong"})
	require.Nil(t, res)
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
}

func TestSignIn_PartialSuccess_IsUpstreamError(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "success", "", map[string]any{
			"user":        map[string]any{"id": 1},
			"accessToken": "acc-only",
		})
	})

	res, err := c.SignIn(context.Background(), models.SignInRequest{Username: "jdoe", Password: "pw"})
	require.Nil(t, res)
	require.ErrorIs(t, err, autherr.ErrUpstream)
}

func TestSignIn_ValidationBeforeNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.SignIn(context.Background(), models.SignInRequest{Username: "", Password: ""})
	require.ErrorIs(t, err, autherr.ErrValidation)
	require.Zero(t, calls.Load())
}

func TestSignIn_ServerError_IsUpstream(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.SignIn(context.Background(), models.SignInRequest{Username: "jdoe", Password: "pw"})
	require.ErrorIs(t, err, autherr.ErrUpstream)
}

func TestSignUp_Mapping(t *testing.T) {
	t.Parallel()

	valid := models.SignUpRequest{
		Username:    "jdoe",
		Email:       "jdoe@example.com",
		PhoneNumber: "+77011234567",
		Password:    "s3cret-pass",
	}

	tcs := []struct {
		name     string
		code     int
		status   string
		wantKind error
	}{
		{"bad_request", http.StatusBadRequest, "error", autherr.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, "error", autherr.ErrValidation},
		{"conflict", http.StatusConflict, "error", autherr.ErrConflict},
		{"status_error_200", http.StatusOK, "error", autherr.ErrConflict},
		{"server_error", http.StatusInternalServerError, "error", autherr.ErrUpstream},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, pathSignUp, r.URL.Path)
				writeEnvelope(w, tc.code, tc.status, "User with this username already exists", nil)
			})

			_, err := c.SignUp(context.Background(), valid)
			require.ErrorIs(t, err, tc.wantKind)
		})
	}
}

func TestSignUp_OK_SendsPhoneNumber(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		require.Equal(t, "+77011234567", raw["phone_number"])
		require.Equal(t, "jdoe@example.com", raw["email"])

		writeEnvelope(w, http.StatusCreated, "success", "", map[string]any{
			"user":         map[string]any{"id": 7, "username": "jdoe"},
			"accessToken":  "a",
			"refreshToken": "r",
		})
	})

	res, err := c.SignUp(context.Background(), models.SignUpRequest{
		Username:    "jdoe",
		Email:       "JDOE@example.com",
		PhoneNumber: "+77011234567",
		Password:    "s3cret-pass",
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), res.User.ID)
}

func TestSignOut_BearerOptional(t *testing.T) {
	t.Parallel()

	var auth atomic.Value
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, "success", "", map[string]any{})
	})

	require.NoError(t, c.SignOut(context.Background(), ""))
	require.Equal(t, "", auth.Load())

	require.NoError(t, c.SignOut(context.Background(), "acc"))
	require.Equal(t, "Bearer acc", auth.Load())
}

func TestSignOut_Failure_IsUpstream(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, "error", "token expired", nil)
	})

	require.ErrorIs(t, c.SignOut(context.Background(), "acc"), autherr.ErrUpstream)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in models.RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))

		switch in.RefreshToken {
		case "valid-xyz":
			writeEnvelope(w, http.StatusOK, "success", "", map[string]any{"accessToken": "new-123"})
		case "no-token":
			writeEnvelope(w, http.StatusOK, "success", "", map[string]any{})
		default:
			writeEnvelope(w, http.StatusUnauthorized, "error", "Refresh token expired", nil)
		}
	})

	tok, err := c.Refresh(context.Background(), "valid-xyz")
	require.NoError(t, err)
	require.Equal(t, "new-123", tok)

	_, err = c.Refresh(context.Background(), "revoked")
	require.ErrorIs(t, err, autherr.ErrRefreshTokenInvalid)

	_, err = c.Refresh(context.Background(), "no-token")
	require.ErrorIs(t, err, autherr.ErrUpstream)
}

func TestRefresh_EmptyToken_NoNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := c.Refresh(context.Background(), "")
	require.ErrorIs(t, err, autherr.ErrRefreshTokenInvalid)
	require.Zero(t, calls.Load())
}

func TestMe(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, pathMe, r.URL.Path)

		switch r.Header.Get("Authorization") {
		case "Bearer good":
			writeEnvelope(w, http.StatusOK, "success", "", map[string]any{
				"id": 1, "username": "jdoe", "email": "jdoe@example.com", "is_active": true,
			})
		case "Bearer null-data":
			writeEnvelope(w, http.StatusOK, "success", "", nil)
		default:
			writeEnvelope(w, http.StatusUnauthorized, "error", "Token expired", nil)
		}
	})

	u, err := c.Me(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "jdoe", u.Username)
	require.True(t, u.IsActive)

	_, err = c.Me(context.Background(), "expired")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)

	_, err = c.Me(context.Background(), "null-data")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)

	_, err = c.Me(context.Background(), "")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)
}

func TestMe_GarbageBody_IsUpstream(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})

	_, err := c.Me(context.Background(), "good")
	require.ErrorIs(t, err, autherr.ErrUpstream)
}

// Зависание апстрима ограничено таймаутом и считается ErrUpstream.
func TestTimeout_HangIsUpstream(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, Logger: quietLogger()})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Me(context.Background(), "good")
	require.ErrorIs(t, err, autherr.ErrUpstream)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

// Дедлайн входящего запроса длиннее таймаута вызова: вызов всё равно
// ограничен своим таймаутом.
func TestTimeout_AppliesUnderRequestDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	_, err = c.Me(ctx, "good")
	require.ErrorIs(t, err, autherr.ErrUpstream)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
	require.NoError(t, ctx.Err())
}
