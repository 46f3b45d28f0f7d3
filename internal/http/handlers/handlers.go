package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
	"github.com/pribylovaa/lawfirm-bff/internal/session"
)

const maxRequestBody = 64 << 10

// Relay — операции session.Relay, которые нужны обработчикам.
type Relay interface {
	Resolve(ctx context.Context, t session.Tokens) session.Resolution
	Refresh(ctx context.Context, t session.Tokens) (string, error)
	SignIn(ctx context.Context, in models.SignInRequest) (*models.AuthResult, error)
	SignUp(ctx context.Context, in models.SignUpRequest) (*models.AuthResult, error)
	SignOut(ctx context.Context, t session.Tokens) error
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	relay   Relay
	cookies *session.CookiePolicy
}

func New(relay Relay, cookies *session.CookiePolicy) *Handlers {
	return &Handlers{relay: relay, cookies: cookies}
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля и хвост после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(value); err != nil {
		return autherr.New(autherr.ErrValidation, "Invalid request body")
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return autherr.New(autherr.ErrValidation, "Invalid request body")
	}

	return nil
}
