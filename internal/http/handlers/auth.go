package handlers

import (
	"net/http"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	apierrors "github.com/pribylovaa/lawfirm-bff/internal/errors"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
)

func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var in models.SignUpRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.relay.SignUp(r.Context(), in)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.cookies.SetSession(w, res.AccessToken, res.RefreshToken); err != nil {
		apierrors.WriteError(w, r, autherr.Wrap(autherr.ErrInternal, err))
		return
	}

	apierrors.WriteJSON(w, http.StatusCreated, models.Success("Registration successful", res.User))
}

func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var in models.SignInRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.relay.SignIn(r.Context(), in)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.cookies.SetSession(w, res.AccessToken, res.RefreshToken); err != nil {
		apierrors.WriteError(w, r, autherr.Wrap(autherr.ErrInternal, err))
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, models.Success("Signed in", res.User))
}

// SignOut очищает обе cookie при любом исходе вызова апстрима.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	err := h.relay.SignOut(r.Context(), h.cookies.TokensFromRequest(r))
	h.cookies.Clear(w)

	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, models.Success[any]("Signed out", nil))
}

// Me — текущий пользователь или 401 с data: null. Никогда не очищает cookie.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	res := h.relay.Resolve(r.Context(), h.cookies.TokensFromRequest(r))

	if res.AccessToken != "" {
		h.cookies.SetAccess(w, res.AccessToken)
	}

	if !res.Authenticated() {
		apierrors.WriteError(w, r, autherr.ErrUnauthorized)
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, models.Success("", res.User))
}

// Refresh обновляет access-cookie по refresh-cookie. Токен в тело не пишется.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	access, err := h.relay.Refresh(r.Context(), h.cookies.TokensFromRequest(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	maxAge := h.cookies.SetAccess(w, access)

	apierrors.WriteJSON(w, http.StatusOK, models.Success("Token refreshed", models.SessionRefreshed{
		Refreshed: true,
		ExpiresIn: int64(maxAge),
	}))
}
