// gateway — клиент identity-сервиса бэкенда (signin, signup, signout, refresh, me).
//
// Клиент не хранит состояния запроса и не работает с cookie: токены приходят
// аргументами и возвращаются значениями. Экземпляр безопасен для конкурентного
// использования.
//
// Каждый ответ апстрима — конверт {message, status, error, data}; status:"error"
// всегда превращается в типизированную ошибку из autherr, никогда — в успех.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	"github.com/pribylovaa/lawfirm-bff/internal/gateway/transport"
	"github.com/pribylovaa/lawfirm-bff/internal/metrics"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
)

const (
	pathSignUp  = "/api-auth/signup"
	pathSignIn  = "/api-auth/signin"
	pathSignOut = "/api-auth/signout"
	pathRefresh = "/api-auth/refresh"
	pathMe      = "/api-auth/me"

	maxBodyBytes = 1 << 20
)

// Options — параметры клиента.
type Options struct {
	BaseURL   string
	Timeout   time.Duration // на один вызов; <=0 — без таймаута
	UserAgent string
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// Transport — базовый RoundTripper (nil — http.DefaultTransport).
	Transport http.RoundTripper
}

type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

// New собирает клиент с цепочкой metadata -> timeout -> logging.
func New(opts Options) (*Client, error) {
	const op = "gateway.New"

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", op, opts.BaseURL)
	}

	rt := transport.Chain(opts.Transport,
		transport.WithMetadata(opts.UserAgent),
		transport.WithTimeout(opts.Timeout),
		transport.WithLogging(opts.Logger),
	)

	return &Client{
		baseURL: base,
		http: &http.Client{
			Transport: rt,
			// Редиректы апстрима не следуем: bearer не должен улетать на чужой хост.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		metrics: opts.Metrics,
	}, nil
}

// SignIn — вход. Ошибки: ErrValidation (до сети), ErrInvalidCredentials, ErrUpstream.
func (c *Client) SignIn(ctx context.Context, in models.SignInRequest) (*models.AuthResult, error) {
	const op = "gateway.SignIn"

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrValidation, err.Error()))
	}

	res, err := c.do(ctx, "signin", http.MethodPost, pathSignIn, "", in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if res.rejected() {
		switch res.code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrInvalidCredentials, res.reason()))
		}

		if res.code < 300 {
			return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrInvalidCredentials, res.reason()))
		}

		return nil, fmt.Errorf("%s: %w", op, res.unexpected())
	}

	return decodeAuthResult(op, res)
}

// SignUp — регистрация. Ошибки: ErrValidation, ErrConflict, ErrUpstream.
func (c *Client) SignUp(ctx context.Context, in models.SignUpRequest) (*models.AuthResult, error) {
	const op = "gateway.SignUp"

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrValidation, err.Error()))
	}

	res, err := c.do(ctx, "signup", http.MethodPost, pathSignUp, "", in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if res.rejected() {
		switch res.code {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrValidation, res.reason()))
		case http.StatusTooManyRequests:
			return nil, fmt.Errorf("%s: %w", op, res.unexpected())
		}

		return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrConflict, res.reason()))
	}

	return decodeAuthResult(op, res)
}

// SignOut — выход. Bearer необязателен. Ошибка всегда ErrUpstream: вызывающий
// обязан очистить cookie независимо от результата.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	const op = "gateway.SignOut"

	res, err := c.do(ctx, "signout", http.MethodPost, pathSignOut, accessToken, struct{}{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.rejected() {
		return fmt.Errorf("%s: %w", op, res.unexpected())
	}

	return nil
}

// Refresh обменивает refresh-токен на новый access-токен.
// Ошибки: ErrRefreshTokenInvalid, ErrUpstream. Пустой токен — отказ без сети.
//
// Токен может быть одноразовым: повторный вызов с тем же значением не обязан
// удаться, поэтому клиент сам никогда не ретраит refresh.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	const op = "gateway.Refresh"

	if refreshToken == "" {
		return "", fmt.Errorf("%s: %w", op, autherr.ErrRefreshTokenInvalid)
	}

	res, err := c.do(ctx, "refresh", http.MethodPost, pathRefresh, "", models.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if res.rejected() {
		switch {
		case res.code < 300,
			res.code == http.StatusBadRequest,
			res.code == http.StatusUnauthorized,
			res.code == http.StatusForbidden,
			res.code == http.StatusNotFound:
			return "", fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrRefreshTokenInvalid, res.reason()))
		}

		return "", fmt.Errorf("%s: %w", op, res.unexpected())
	}

	var out models.RefreshResult
	if err := res.decodeData(&out); err != nil {
		return "", fmt.Errorf("%s: %w", op, autherr.Wrap(autherr.ErrUpstream, err))
	}

	if out.AccessToken == "" {
		return "", fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrUpstream, "refresh response without access token"))
	}

	return out.AccessToken, nil
}

// Me возвращает пользователя по access-токену. Ошибки: ErrUnauthorized, ErrUpstream.
// Пустой токен — отказ без сети.
func (c *Client) Me(ctx context.Context, accessToken string) (*models.User, error) {
	const op = "gateway.Me"

	if accessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, autherr.ErrUnauthorized)
	}

	res, err := c.do(ctx, "me", http.MethodGet, pathMe, accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if res.rejected() {
		switch {
		case res.code < 300, res.code == http.StatusUnauthorized, res.code == http.StatusForbidden:
			return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrUnauthorized, res.reason()))
		}

		return nil, fmt.Errorf("%s: %w", op, res.unexpected())
	}

	var u *models.User
	if err := res.decodeData(&u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, autherr.Wrap(autherr.ErrUpstream, err))
	}

	if u == nil {
		return nil, fmt.Errorf("%s: %w", op, autherr.ErrUnauthorized)
	}

	return u, nil
}

// do выполняет вызов и возвращает разобранный ответ.
// Ошибка возвращается только для сети/таймаута/5xx/битого тела (ErrUpstream);
// отказы 4xx и status:"error" отдаются как result.rejected(), их классифицирует
// вызывающий метод.
func (c *Client) do(ctx context.Context, opName, method, path, bearer string, body any) (*result, error) {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { c.metrics.ObserveUpstream(opName, outcome, time.Since(start)) }()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, autherr.Wrap(autherr.ErrInternal, err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrInternal, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrUpstream, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, autherr.Wrap(autherr.ErrUpstream, fmt.Errorf("status %d", resp.StatusCode))
	}

	res := &result{code: resp.StatusCode}
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &res.env); err != nil {
			if resp.StatusCode < http.StatusMultipleChoices {
				return nil, autherr.Wrap(autherr.ErrUpstream, fmt.Errorf("decode envelope: %w", err))
			}
			// Тело отказа не в формате конверта — классифицируем по статусу.
			res.env = envelope{}
		}
	}

	if res.code >= http.StatusMultipleChoices && res.code < http.StatusBadRequest {
		return nil, autherr.Wrap(autherr.ErrUpstream, fmt.Errorf("unexpected redirect %d", res.code))
	}

	if res.rejected() {
		outcome = metrics.OutcomeRejected
	} else {
		outcome = metrics.OutcomeOK
	}

	return res, nil
}

func decodeAuthResult(op string, res *result) (*models.AuthResult, error) {
	var out models.AuthResult
	if err := res.decodeData(&out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, autherr.Wrap(autherr.ErrUpstream, err))
	}

	// Частичный успех (нет одного из токенов) — не успех.
	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, autherr.New(autherr.ErrUpstream, "incomplete session in upstream response"))
	}

	return &out, nil
}

// envelope — конверт апстрима; error может прийти строкой или объектом.
type envelope struct {
	Message string          `json:"message"`
	Status  string          `json:"status"`
	Error   json.RawMessage `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type result struct {
	code int
	env  envelope
}

// rejected — 4xx или явный status:"error".
func (r *result) rejected() bool {
	return r.code >= http.StatusBadRequest || r.env.Status == models.StatusError
}

// reason — текст отказа: строковый error, иначе message.
func (r *result) reason() string {
	var s string
	if len(r.env.Error) > 0 && json.Unmarshal(r.env.Error, &s) == nil && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}

	return strings.TrimSpace(r.env.Message)
}

func (r *result) unexpected() error {
	return autherr.Wrap(autherr.ErrUpstream, fmt.Errorf("unexpected status %d: %s", r.code, r.reason()))
}

func (r *result) decodeData(v any) error {
	if len(r.env.Data) == 0 {
		return errors.New("empty data")
	}

	if err := json.Unmarshal(r.env.Data, v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}

	return nil
}
