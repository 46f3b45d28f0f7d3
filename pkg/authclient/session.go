package authclient

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pribylovaa/lawfirm-bff/internal/models"
)

// Status — состояние сессии глазами клиента.
type Status int

const (
	// StatusLoading — первичная загрузка ещё не завершилась.
	StatusLoading Status = iota
	StatusAnonymous
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// UserSource — откуда Session берёт пользователя.
type UserSource interface {
	Me(ctx context.Context) (*models.User, error)
	SignOut(ctx context.Context) error
}

// expiryNotifier — источник, который умеет сообщать о неудачном refresh.
type expiryNotifier interface {
	OnSessionExpired(fn func())
}

// Session — фасад состояния сессии для остального приложения.
type Session struct {
	src UserSource
	log *slog.Logger

	mu      sync.RWMutex
	status  Status
	user    *models.User
	version uint64 // растёт при каждом изменении состояния

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSession создаёт фасад и сразу запускает первичную загрузку пользователя.
// До её завершения Status() == StatusLoading.
func NewSession(ctx context.Context, src UserSource, l *slog.Logger) *Session {
	if l == nil {
		l = slog.Default()
	}

	s := &Session{src: src, log: l, ready: make(chan struct{})}

	if n, ok := src.(expiryNotifier); ok {
		n.OnSessionExpired(s.expire)
	}

	go s.hydrate(ctx)

	return s
}

func (s *Session) Status() Status {
	st, _ := s.Snapshot()
	return st
}

// Snapshot — состояние и пользователь одним чтением.
func (s *Session) Snapshot() (Status, *models.User) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status, s.user
}

// Wait блокируется до завершения первичной загрузки.
func (s *Session) Wait(ctx context.Context) (Status, *models.User, error) {
	select {
	case <-s.ready:
		st, u := s.Snapshot()
		return st, u, nil
	case <-ctx.Done():
		return StatusLoading, nil, ctx.Err()
	}
}

// CurrentUser спрашивает BFF о текущем пользователе. Всегда без ошибки:
// любой сбой означает nil.
func (s *Session) CurrentUser(ctx context.Context) *models.User {
	u, err := s.src.Me(ctx)
	if err != nil {
		s.log.Debug("current_user_failed", slog.String("err", err.Error()))
		return nil
	}

	return u
}

// Login фиксирует пользователя после успешного sign-in/sign-up.
func (s *Session) Login(u *models.User) {
	if u == nil {
		s.set(StatusAnonymous, nil)
		return
	}

	s.set(StatusAuthenticated, u)
}

// Logout — best effort выход на сервере, локальное состояние очищается всегда.
func (s *Session) Logout(ctx context.Context) {
	if err := s.src.SignOut(ctx); err != nil {
		s.log.Warn("signout_failed", slog.String("err", err.Error()))
	}

	s.set(StatusAnonymous, nil)
}

// RefreshUser перечитывает пользователя и обновляет состояние.
func (s *Session) RefreshUser(ctx context.Context) *models.User {
	s.mu.RLock()
	v := s.version
	s.mu.RUnlock()

	u := s.CurrentUser(ctx)
	s.setIfUnchanged(v, u)

	return u
}

func (s *Session) hydrate(ctx context.Context) {
	defer s.readyOnce.Do(func() { close(s.ready) })

	u := s.CurrentUser(ctx)
	s.setIfUnchanged(0, u)
}

func (s *Session) expire() {
	s.log.Info("session_expired")
	s.set(StatusAnonymous, nil)
}

func (s *Session) set(st Status, u *models.User) {
	s.mu.Lock()
	s.status, s.user = st, u
	s.version++
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
}

// setIfUnchanged применяет итог запроса, только если состояние не менялось
// с момента его начала (Login/Logout во время запроса важнее).
func (s *Session) setIfUnchanged(v uint64, u *models.User) {
	st := StatusAnonymous
	if u != nil {
		st = StatusAuthenticated
	}

	s.mu.Lock()
	if s.version != v {
		s.mu.Unlock()
		return
	}
	s.status, s.user = st, u
	s.version++
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
}
