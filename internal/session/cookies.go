package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pribylovaa/lawfirm-bff/internal/config"
)

const (
	CookieAccess  = "access_token"
	CookieRefresh = "refresh_token"
)

// ErrIncompleteSession — попытка выставить сессию без одного из токенов.
var ErrIncompleteSession = errors.New("incomplete session")

// Tokens — пара токенов из cookie входящего запроса. Пустая строка — cookie нет.
type Tokens struct {
	Access  string
	Refresh string
}

func (t Tokens) Empty() bool { return t.Access == "" && t.Refresh == "" }

// CookiePolicy — хранилище токенов в HttpOnly-cookie браузера.
// BFF не держит токены у себя: всё состояние сессии живёт в этих двух cookie.
type CookiePolicy struct {
	cfg config.CookieConfig
	now func() time.Time
}

func NewCookiePolicy(cfg config.CookieConfig) *CookiePolicy {
	return &CookiePolicy{cfg: cfg, now: time.Now}
}

// TokensFromRequest читает оба токена.
func (p *CookiePolicy) TokensFromRequest(r *http.Request) Tokens {
	var t Tokens
	if c, err := r.Cookie(CookieAccess); err == nil {
		t.Access = c.Value
	}

	if c, err := r.Cookie(CookieRefresh); err == nil {
		t.Refresh = c.Value
	}

	return t
}

// SetSession выставляет обе cookie или ни одной.
func (p *CookiePolicy) SetSession(w http.ResponseWriter, access, refresh string) error {
	if access == "" || refresh == "" {
		return ErrIncompleteSession
	}

	p.SetAccess(w, access)
	http.SetCookie(w, p.cookie(CookieRefresh, refresh, int(p.cfg.RefreshTTL/time.Second)))

	return nil
}

// SetAccess выставляет только access-cookie и возвращает её Max-Age в секундах.
func (p *CookiePolicy) SetAccess(w http.ResponseWriter, access string) int {
	maxAge := p.AccessMaxAge(access)
	http.SetCookie(w, p.cookie(CookieAccess, access, maxAge))

	return maxAge
}

// Clear удаляет обе cookie.
func (p *CookiePolicy) Clear(w http.ResponseWriter) {
	for _, name := range []string{CookieAccess, CookieRefresh} {
		c := p.cookie(name, "", -1)
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// AccessMaxAge — срок жизни access-cookie.
// Если токен оказался JWT с exp, срок не превышает остаток жизни токена
// (но не меньше секунды). Подпись не проверяется: токен для BFF непрозрачен,
// читается только exp.
func (p *CookiePolicy) AccessMaxAge(access string) int {
	ttl := int(p.cfg.AccessTTL / time.Second)
	if p.cfg.IgnoreTokenExpiry {
		return ttl
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil || claims.ExpiresAt == nil {
		return ttl
	}

	left := int(claims.ExpiresAt.Time.Sub(p.now()) / time.Second)
	switch {
	case left < 1:
		return 1
	case left < ttl:
		return left
	default:
		return ttl
	}
}

func (p *CookiePolicy) cookie(name, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     p.cfg.Path,
		Domain:   p.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   p.cfg.Secure(),
		SameSite: p.cfg.SameSiteMode(),
	}

	if c.Path == "" {
		c.Path = "/"
	}

	if maxAge > 0 {
		c.Expires = p.now().Add(time.Duration(maxAge) * time.Second).UTC()
	}

	return c
}
