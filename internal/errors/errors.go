// errors стандартизирует ответы об ошибках HTTP-слоя BFF.
// На вход он принимает ошибку (вид из autherr), а на выход даёт:
//   - корректный HTTP-статус;
//   - конверт {message, status: "error", error: <код>, data: null}
//     с безопасным сообщением без утечки деталей.
//
// Сообщение апстрима показывается только для ошибок ввода/входа/регистрации.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// ErrRateLimited — превышен лимит запросов на вход/регистрацию.
var ErrRateLimited = stderrors.New("too many requests")

// ToHTTP конвертирует ошибку в HTTP-статус и конверт ответа.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal, чтобы не послать
//     "200 OK" с телом ошибки;
//   - неизвестная ошибка — 500/internal без деталей;
//   - вид из autherr — маппинг через baseFromKind().
func ToHTTP(err error) (int, models.Envelope[any]) {
	if err == nil {
		return http.StatusInternalServerError, models.Failure("Internal server error", "internal")
	}

	if stderrors.Is(err, ErrRateLimited) {
		return http.StatusTooManyRequests, models.Failure("Too many attempts, try again later", "rate_limited")
	}

	if stderrors.Is(err, context.Canceled) && !stderrors.Is(err, autherr.ErrUpstream) {
		return StatusClientClosedRequest, models.Failure("Request canceled", "canceled")
	}

	httpStatus, code, msg := baseFromKind(autherr.Kind(err))

	switch autherr.Kind(err) {
	case autherr.ErrValidation, autherr.ErrInvalidCredentials, autherr.ErrConflict:
		if m := autherr.Message(err); m != "" {
			msg = m
		}
	case autherr.ErrUpstream:
		if stderrors.Is(err, context.DeadlineExceeded) {
			httpStatus, code = http.StatusGatewayTimeout, "upstream_timeout"
		}
	}

	return httpStatus, models.Failure(msg, code)
}

// WriteError — хелпер для HTTP-хендлеров.
func WriteError(w http.ResponseWriter, _ *http.Request, err error) {
	status, resp := ToHTTP(err)
	WriteJSON(w, status, resp)
}

// WriteJSON — единый ответ JSON с нужным Content-Type.
func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// baseFromKind — базовый маппинг вид ошибки -> HTTP/код/сообщение:
//   - ErrValidation -> 400
//   - ErrInvalidCredentials -> 401
//   - ErrUnauthorized, ErrRefreshTokenInvalid -> 401 (unauthenticated, без деталей)
//   - ErrConflict -> 409
//   - ErrUpstream -> 502 (504 при таймауте, см. ToHTTP)
//   - прочее -> 500/internal
func baseFromKind(kind error) (int, string, string) {
	switch kind {
	case autherr.ErrValidation:
		return http.StatusBadRequest, "validation_error", "Invalid request"
	case autherr.ErrInvalidCredentials:
		return http.StatusUnauthorized, "invalid_credentials", "Invalid username or password"
	case autherr.ErrUnauthorized, autherr.ErrRefreshTokenInvalid:
		return http.StatusUnauthorized, "unauthenticated", "Not authenticated"
	case autherr.ErrConflict:
		return http.StatusConflict, "conflict", "User already exists"
	case autherr.ErrUpstream:
		return http.StatusBadGateway, "upstream_error", "Authentication service is unavailable"
	default:
		return http.StatusInternalServerError, "internal", "Internal server error"
	}
}
