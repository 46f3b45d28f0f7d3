// session — серверная сторона сессии BFF: политика cookie и Relay,
// который отвечает на "кто текущий пользователь" и sign-in/up/out
// в рамках одного входящего запроса.
//
// Relay не хранит состояния между запросами: на каждый запрос не больше
// одного refresh и не больше одного повторного me.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	"github.com/pribylovaa/lawfirm-bff/internal/metrics"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
	"github.com/pribylovaa/lawfirm-bff/internal/pkg/log"
	"github.com/pribylovaa/lawfirm-bff/internal/pkg/redact"
)

//go:generate mockgen -destination=../../mocks/mock_gateway.go -package=mocks github.com/pribylovaa/lawfirm-bff/internal/session Gateway

// Gateway — контракт identity-сервиса, которым пользуется Relay.
type Gateway interface {
	SignIn(ctx context.Context, in models.SignInRequest) (*models.AuthResult, error)
	SignUp(ctx context.Context, in models.SignUpRequest) (*models.AuthResult, error)
	SignOut(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Me(ctx context.Context, accessToken string) (*models.User, error)
}

// State — состояние пары токенов по итогам запроса.
type State int

const (
	// StateAnonymous — cookie нет.
	StateAnonymous State = iota
	// StateActive — access-токен принят апстримом.
	StateActive
	// StateRefreshed — access-токен получен refresh-ем в этом запросе.
	StateRefreshed
	// StateExpired — access отсутствует или отклонён, refresh отсутствует или отклонён.
	StateExpired
	// StateUnavailable — апстрим недоступен, состояние токенов неизвестно.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateActive:
		return "active"
	case StateRefreshed:
		return "refreshed"
	case StateExpired:
		return "expired"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Resolution — итог Resolve.
type Resolution struct {
	// User — nil, если пользователь не аутентифицирован.
	User  *models.User
	State State
	// AccessToken непустой, только если refresh выдал новый токен:
	// вызывающий обязан выставить его в cookie, даже если User == nil.
	AccessToken string
	// Err — причина отказа, только для логов.
	Err error
}

func (r Resolution) Authenticated() bool { return r.User != nil }

type Relay struct {
	gw      Gateway
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewRelay создаёт Relay. log и m могут быть nil.
func NewRelay(gw Gateway, l *slog.Logger, m *metrics.Metrics) *Relay {
	if l == nil {
		l = slog.Default()
	}

	return &Relay{gw: gw, log: l, metrics: m}
}

// Resolve определяет текущего пользователя.
//
//	оба токена пусты           -> Unauthenticated, без вызовов апстрима;
//	access пуст, refresh есть  -> refresh, затем me(new);
//	access есть                -> me; на Unauthorized при наличии refresh:
//	                              refresh один раз, затем me(new) один раз.
//
// Любой другой отказ — Unauthenticated. Cookie здесь не очищаются.
func (rl *Relay) Resolve(ctx context.Context, t Tokens) Resolution {
	const op = "session.Relay.Resolve"

	l := rl.logger(ctx).With(slog.String("op", op))

	if t.Empty() {
		return Resolution{State: StateAnonymous, Err: autherr.ErrUnauthorized}
	}

	// RefreshFirst
	if t.Access == "" {
		access, err := rl.refresh(ctx, t.Refresh)
		if err != nil {
			return rl.failed(l, "", err)
		}

		return rl.meAfterRefresh(ctx, l, access)
	}

	// CallWithToken
	user, err := rl.gw.Me(ctx, t.Access)
	if err == nil {
		return Resolution{User: user, State: StateActive}
	}

	if !errors.Is(err, autherr.ErrUnauthorized) || t.Refresh == "" {
		return rl.failed(l, "", err)
	}

	// RefreshRetry
	access, err := rl.refresh(ctx, t.Refresh)
	if err != nil {
		return rl.failed(l, "", err)
	}

	return rl.meAfterRefresh(ctx, l, access)
}

// EnsureAccess возвращает access-токен для проксирования: существующий как
// есть или, если его нет, полученный refresh-ем. Me не вызывается.
func (rl *Relay) EnsureAccess(ctx context.Context, t Tokens) (access string, refreshed bool, err error) {
	const op = "session.Relay.EnsureAccess"

	if t.Access != "" {
		return t.Access, false, nil
	}

	if t.Refresh == "" {
		return "", false, fmt.Errorf("%s: %w", op, autherr.ErrUnauthorized)
	}

	access, err = rl.refresh(ctx, t.Refresh)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	return access, true, nil
}

// Refresh — явный refresh по запросу клиента.
func (rl *Relay) Refresh(ctx context.Context, t Tokens) (string, error) {
	const op = "session.Relay.Refresh"

	access, err := rl.refresh(ctx, t.Refresh)
	if err != nil {
		rl.logger(ctx).Info("refresh_failed",
			slog.String("op", op),
			slog.String("refresh_token", redact.Presence(t.Refresh)),
			slog.String("err", err.Error()),
		)

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return access, nil
}

func (rl *Relay) SignIn(ctx context.Context, in models.SignInRequest) (*models.AuthResult, error) {
	const op = "session.Relay.SignIn"

	res, err := rl.gw.SignIn(ctx, in)
	if err != nil {
		rl.logger(ctx).Info("signin_rejected",
			slog.String("op", op),
			slog.String("username", redact.Username(in.Username)),
			slog.String("err", err.Error()),
		)

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rl.logger(ctx).Info("signin_ok", slog.String("op", op), slog.Int64("user_id", res.User.ID))

	return res, nil
}

func (rl *Relay) SignUp(ctx context.Context, in models.SignUpRequest) (*models.AuthResult, error) {
	const op = "session.Relay.SignUp"

	res, err := rl.gw.SignUp(ctx, in)
	if err != nil {
		rl.logger(ctx).Info("signup_rejected",
			slog.String("op", op),
			slog.String("username", redact.Username(in.Username)),
			slog.String("email", redact.Email(in.Email)),
			slog.String("err", err.Error()),
		)

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rl.logger(ctx).Info("signup_ok", slog.String("op", op), slog.Int64("user_id", res.User.ID))

	return res, nil
}

// SignOut — best effort выход на апстриме. Ошибка только для логов:
// вызывающий очищает cookie в любом случае.
func (rl *Relay) SignOut(ctx context.Context, t Tokens) error {
	const op = "session.Relay.SignOut"

	if err := rl.gw.SignOut(ctx, t.Access); err != nil {
		rl.logger(ctx).Warn("upstream_signout_failed",
			slog.String("op", op),
			slog.String("access_token", redact.Presence(t.Access)),
			slog.String("err", err.Error()),
		)

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (rl *Relay) refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", autherr.ErrRefreshTokenInvalid
	}

	access, err := rl.gw.Refresh(ctx, refreshToken)
	if err != nil {
		rl.metrics.ObserveRefresh(metrics.RefreshFailed)
		return "", err
	}

	rl.metrics.ObserveRefresh(metrics.RefreshOK)

	return access, nil
}

// meAfterRefresh — единственный me с токеном после refresh. Новый токен
// отдаётся в Resolution даже при отказе: refresh-токен мог быть одноразовым.
func (rl *Relay) meAfterRefresh(ctx context.Context, l *slog.Logger, access string) Resolution {
	user, err := rl.gw.Me(ctx, access)
	if err != nil {
		return rl.failed(l, access, err)
	}

	return Resolution{User: user, State: StateRefreshed, AccessToken: access}
}

func (rl *Relay) failed(l *slog.Logger, access string, err error) Resolution {
	state := StateExpired
	if errors.Is(err, autherr.ErrUpstream) {
		state = StateUnavailable
		l.Warn("resolve_upstream_failed", slog.String("err", err.Error()))
	} else {
		l.Debug("resolve_unauthenticated", slog.String("err", err.Error()))
	}

	return Resolution{State: state, AccessToken: access, Err: err}
}

func (rl *Relay) logger(ctx context.Context) *slog.Logger {
	return log.FromOr(ctx, rl.log)
}
