// autherr — таксономия ошибок аутентификационного контура BFF.
//
// Каждый вид ошибки — sentinel-значение; сравнение только через errors.Is.
// Сообщение апстрима (например, "Invalid credentials") переносится отдельно
// в *Error и показывается пользователю только для sign-in/sign-up.
package autherr

import (
	"errors"
	"strings"
)

var (
	// ErrValidation — некорректный ввод sign-in/sign-up; апстрим не вызывается.
	// HTTP: 400.
	ErrValidation = errors.New("validation error")

	// ErrInvalidCredentials — апстрим отклонил пару логин/пароль. HTTP: 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrConflict — апстрим отклонил регистрацию (например, пользователь уже есть). HTTP: 409.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized — access-токен отсутствует, истёк или отклонён.
	// Всегда лечится локально одной попыткой refresh. HTTP: 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRefreshTokenInvalid — refresh-токен отсутствует, истёк или отклонён.
	// Не ретраится. Наружу — только как "не аутентифицирован". HTTP: 401.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")

	// ErrUpstream — сеть, таймаут или 5xx от identity-сервиса. HTTP: 502/504.
	ErrUpstream = errors.New("upstream error")

	// ErrInternal — непредвиденная ошибка внутри BFF. HTTP: 500.
	ErrInternal = errors.New("internal error")
)

// Error — ошибка определённого вида с безопасным сообщением апстрима.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// New создаёт ошибку вида kind с сообщением msg.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: strings.TrimSpace(msg)}
}

// Wrap создаёт ошибку вида kind поверх причины cause.
func Wrap(kind error, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}

	if e.Err != nil {
		out = append(out, e.Err)
	}

	return out
}

// Message возвращает сообщение апстрима из цепочки err или "".
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return ""
}

// Kind возвращает вид ошибки; неизвестные ошибки считаются ErrInternal.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation,
		ErrInvalidCredentials,
		ErrConflict,
		ErrUnauthorized,
		ErrRefreshTokenInvalid,
		ErrUpstream,
		ErrInternal,
	} {
		if errors.Is(err, k) {
			return k
		}
	}

	return ErrInternal
}
