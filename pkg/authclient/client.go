// authclient — клиентская сторона сессии BFF: обёртка HTTP-вызовов с одним
// повтором после refresh (Client), координатор конкурентных refresh
// (Coordinator) и фасад состояния сессии (Session).
//
// Токены клиенту не видны: они живут в HttpOnly-cookie, которые хранит
// cookiejar http.Client.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pribylovaa/lawfirm-bff/internal/models"
)

const (
	pathSignUp  = "/api-auth/signup"
	pathSignIn  = "/api-auth/signin"
	pathSignOut = "/api-auth/signout"
	pathRefresh = "/api-auth/refresh"
	pathMe      = "/api-auth/me"

	cookieAccess = "access_token"

	maxBodyBytes = 1 << 20
)

// AuthRequiredError — 401 пережил refresh: нужен повторный вход.
type AuthRequiredError struct {
	RedirectTo string
}

func (e *AuthRequiredError) Error() string {
	return "authentication required, redirect to " + e.RedirectTo
}

// APIError — отказ BFF с конвертом ошибки.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bff: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Options — параметры клиента.
type Options struct {
	// BaseURL — адрес BFF вместе с base path, например https://site/api.
	BaseURL string
	// HTTPClient — клиент с cookiejar; nil — новый с cookiejar.
	HTTPClient *http.Client
	// SignInPath — куда отправлять пользователя при потере сессии.
	SignInPath string
	// OnUnauthenticated вызывается при потере сессии на пользовательском действии.
	OnUnauthenticated func(redirectTo string)
	// RefreshTimeout ограничивает один refresh (<=0 — 10s).
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

type Client struct {
	baseURL  string
	http     *http.Client
	coord    *Coordinator
	signIn   string
	onUnauth func(string)
	log      *slog.Logger
}

func New(opts Options) (*Client, error) {
	const op = "authclient.New"

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", op, opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		hc = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}

	if hc.Jar == nil {
		return nil, fmt.Errorf("%s: http client without cookie jar", op)
	}

	signIn := opts.SignInPath
	if signIn == "" {
		signIn = "/signin"
	}

	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}

	c := &Client{
		baseURL:  base,
		http:     hc,
		signIn:   signIn,
		onUnauth: opts.OnUnauthenticated,
		log:      l,
	}
	c.coord = NewCoordinator(c.refresh, opts.RefreshTimeout)

	return c, nil
}

// Coordinator — координатор refresh этого клиента.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// OnSessionExpired регистрирует обработчик потери сессии: неудачный refresh
// или 401 после повтора.
func (c *Client) OnSessionExpired(fn func()) {
	if fn == nil {
		return
	}
	c.coord.OnExpired(func(error) { fn() })
}

// Do выполняет запрос к BFF. На 401 дожидается общего refresh и повторяет
// запрос ровно один раз. Второй 401 — *AuthRequiredError, слушатели потери
// сессии и OnUnauthenticated; неудачный refresh — ErrSessionExpired и
// OnUnauthenticated.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	const op = "authclient.Client.Do"

	if err := bufferBody(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	gen := c.coord.Generation()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	if _, err := c.coord.EnsureFreshTokenSince(req.Context(), gen); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			c.unauthenticated(req)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	retry, err := cloneForRetry(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err = c.http.Do(retry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		authErr := &AuthRequiredError{RedirectTo: c.signIn}
		c.coord.Expire(authErr)
		c.unauthenticated(req)
		return nil, authErr
	}

	return resp, nil
}

// Me — текущий пользователь; (nil, nil) — аноним. Refresh клиент здесь не делает:
// BFF лечит просроченный access сам. Ошибка — только сеть или сбой BFF.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	const op = "authclient.Client.Me"

	var u *models.User
	code, err := c.call(ctx, http.MethodGet, pathMe, nil, &u)
	if code == http.StatusUnauthorized {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (c *Client) SignIn(ctx context.Context, in models.SignInRequest) (*models.User, error) {
	const op = "authclient.Client.SignIn"

	var u models.User
	if _, err := c.call(ctx, http.MethodPost, pathSignIn, in, &u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.coord.Reset()

	return &u, nil
}

func (c *Client) SignUp(ctx context.Context, in models.SignUpRequest) (*models.User, error) {
	const op = "authclient.Client.SignUp"

	var u models.User
	if _, err := c.call(ctx, http.MethodPost, pathSignUp, in, &u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.coord.Reset()

	return &u, nil
}

// SignOut — выход; BFF очищает cookie при любом исходе.
func (c *Client) SignOut(ctx context.Context) error {
	const op = "authclient.Client.SignOut"

	if _, err := c.call(ctx, http.MethodPost, pathSignOut, nil, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// refresh — один сетевой refresh; новый access-токен берётся из Set-Cookie.
func (c *Client) refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathRefresh, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == cookieAccess && ck.Value != "" {
			return ck.Value, nil
		}
	}

	return "", errors.New("refresh response without access cookie")
}

// call — вызов эндпойнта сессии без повтора; возвращает HTTP-статус.
func (c *Client) call(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, decodeAPIError(resp)
	}

	if out == nil {
		return resp.StatusCode, nil
	}

	var env models.Envelope[json.RawMessage]
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("decode envelope: %w", err)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode data: %w", err)
	}

	return resp.StatusCode, nil
}

func (c *Client) unauthenticated(req *http.Request) {
	c.log.Info("session_lost",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.String("redirect_to", c.signIn),
	)

	if c.onUnauth != nil {
		c.onUnauth(c.signIn)
	}
}

func decodeAPIError(resp *http.Response) error {
	e := &APIError{StatusCode: resp.StatusCode}

	var env models.Envelope[json.RawMessage]
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env); err == nil {
		e.Code, e.Message = env.Error, env.Message
	}

	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}

	return e
}

// bufferBody гарантирует, что тело можно отправить повторно.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}

	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(raw))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}

	return nil
}

func cloneForRetry(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	// Cookie выставит jar уже с новым access-токеном.
	retry.Header.Del("Cookie")

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay body: %w", err)
		}
		retry.Body = body
	}

	return retry, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}
