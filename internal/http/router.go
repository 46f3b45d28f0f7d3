package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/lawfirm-bff/internal/http/handlers"
	"github.com/pribylovaa/lawfirm-bff/internal/http/middleware"
	"github.com/pribylovaa/lawfirm-bff/internal/metrics"
	"github.com/pribylovaa/lawfirm-bff/internal/ratelimit"
	"github.com/pribylovaa/lawfirm-bff/internal/session"
)

// Relay — всё, что роутеру нужно от session.Relay.
type Relay interface {
	handlers.Relay
	middleware.SessionRelay
}

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.

	// Limiter ограничивает sign-in/sign-up; nil — без ограничения.
	Limiter   ratelimit.Limiter
	RateLimit middleware.RateLimitOptions

	// WithSession регистрирует маршруты, которым нужен access-токен
	// (middleware.Session: токен в контексте, без проверки пользователя).
	WithSession func(r chi.Router)
	// Protected регистрирует маршруты, требующие пользователя (middleware.RequireUser).
	Protected func(r chi.Router)
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(relay Relay, cookies *session.CookiePolicy, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // X-Request-Id до логирования
		middleware.Logging(opts.Logger), // request-scoped логгер в контексте
		opts.Metrics.Instrument,
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	h := handlers.New(relay, cookies)

	rlOpts := opts.RateLimit
	if rlOpts.Metrics == nil {
		rlOpts.Metrics = opts.Metrics
	}
	limited := middleware.RateLimit(opts.Limiter, rlOpts)

	register := func(r chi.Router) {
		registerRoutes(r, h, limited)

		if opts.WithSession != nil {
			r.Group(func(sr chi.Router) {
				sr.Use(middleware.Session(relay, cookies))
				opts.WithSession(sr)
			})
		}

		// RequireUser сам делает refresh; вместе с Session было бы два refresh на запрос.
		if opts.Protected != nil {
			r.Group(func(pr chi.Router) {
				pr.Use(middleware.RequireUser(relay, cookies))
				opts.Protected(pr)
			})
		}
	}

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		register(sub)
		root.Mount(opts.BasePath, sub)
		return root
	}

	register(root)
	return root
}

// registerRoutes — единая точка регистрации эндпойнтов сессии.
func registerRoutes(r chi.Router, h *handlers.Handlers, limited middleware.Middleware) {
	r.With(limited).Post("/api-auth/signup", h.SignUp)
	r.With(limited).Post("/api-auth/signin", h.SignIn)
	r.Post("/api-auth/signout", h.SignOut)
	r.Post("/api-auth/refresh", h.Refresh)
	r.Get("/api-auth/me", h.Me)
}
