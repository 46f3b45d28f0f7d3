package models

import "time"

// User — снимок пользователя из identity-сервиса; в BFF не хранится.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsStaff     bool       `json:"is_staff"`
	IsVerified  bool       `json:"is_verified"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// AuthResult — data ответа signin/signup апстрима.
type AuthResult struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest — тело POST /api-auth/refresh апстрима.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResult — data ответа refresh апстрима.
type RefreshResult struct {
	AccessToken string `json:"accessToken"`
}

// SessionRefreshed — data ответа BFF на явный refresh. Токен в тело не попадает.
type SessionRefreshed struct {
	Refreshed bool  `json:"refreshed"`
	ExpiresIn int64 `json:"expires_in"` // секунды
}
