// Модели обмена с identity-сервисом и с фронтендом.
// Оба направления используют один конверт {message, status, error, data}.
package models

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope — единый конверт ответа.
type Envelope[T any] struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Data    T      `json:"data"`
}

// Success собирает успешный конверт.
func Success[T any](message string, data T) Envelope[T] {
	return Envelope[T]{Message: message, Status: StatusSuccess, Data: data}
}

// Failure собирает конверт ошибки; data всегда null.
func Failure(message, errText string) Envelope[any] {
	return Envelope[any]{Message: message, Status: StatusError, Error: errText}
}
