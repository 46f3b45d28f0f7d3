// config — источник загрузки конфигурации BFF.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
package config

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const envProd = "prod"

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cookies   CookieConfig    `yaml:"cookies"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// TimeoutConfig — общий дедлайн входящего запроса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE" env-default:"15s"`
}

// HTTPConfig — публичный HTTP-сервер BFF.
type HTTPConfig struct {
	Host     string `yaml:"host"      env:"HTTP_HOST"      env-default:"0.0.0.0"`
	Port     string `yaml:"port"      env:"HTTP_PORT"      env-default:"8080"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// UpstreamConfig — identity-сервис бэкенда.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"   env:"UPSTREAM_BASE_URL"`
	Timeout   time.Duration `yaml:"timeout"    env:"UPSTREAM_TIMEOUT"    env-default:"5s"`
	UserAgent string        `yaml:"user_agent" env:"UPSTREAM_USER_AGENT" env-default:"lawfirm-bff"`
}

// CookieConfig — политика cookie access_token / refresh_token.
// Булевы флаги сформулированы так, чтобы значение по умолчанию было false:
// cleanenv подставляет env-default для любого нулевого поля, в том числе
// для явно записанного в yaml false.
type CookieConfig struct {
	AllowInsecure     bool          `yaml:"allow_insecure"      env:"COOKIE_ALLOW_INSECURE"`
	SameSite          string        `yaml:"same_site"           env:"COOKIE_SAME_SITE"           env-default:"strict"`
	Path              string        `yaml:"path"                env:"COOKIE_PATH"                env-default:"/"`
	Domain            string        `yaml:"domain"              env:"COOKIE_DOMAIN"`
	AccessTTL         time.Duration `yaml:"access_ttl"          env:"COOKIE_ACCESS_TTL"          env-default:"15m"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl"         env:"COOKIE_REFRESH_TTL"         env-default:"168h"`
	IgnoreTokenExpiry bool          `yaml:"ignore_token_expiry" env:"COOKIE_IGNORE_TOKEN_EXPIRY"`
}

// Secure — выставлять ли атрибут Secure.
func (c CookieConfig) Secure() bool { return !c.AllowInsecure }

// SameSiteMode — http.SameSite по строковому значению; неизвестное -> Strict.
func (c CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(strings.TrimSpace(c.SameSite)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// RateLimitConfig — ограничение частоты sign-in/sign-up по IP.
// RedisURL пустой — лимитер в памяти процесса.
// TrustForwardedFor — брать IP из X-Forwarded-For (только за доверенным прокси).
type RateLimitConfig struct {
	Disabled          bool          `yaml:"disabled"            env:"RATELIMIT_DISABLED"`
	Limit             int           `yaml:"limit"               env:"RATELIMIT_LIMIT"               env-default:"10"`
	Window            time.Duration `yaml:"window"              env:"RATELIMIT_WINDOW"              env-default:"1m"`
	Burst             int           `yaml:"burst"               env:"RATELIMIT_BURST"               env-default:"5"`
	RedisURL          string        `yaml:"redis_url"           env:"RATELIMIT_REDIS_URL"`
	TrustForwardedFor bool          `yaml:"trust_forwarded_for" env:"RATELIMIT_TRUST_FORWARDED_FOR"`
}

// MustLoad — паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return finalize(&cfg)
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		if err := cleanenv.ReadConfig("local.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read local.yaml: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return finalize(&cfg)
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return finalize(&cfg)
}

// finalize проверяет обязательные поля и применяет ограничения окружения.
func finalize(cfg *Config) (*Config, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.Upstream.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid config: upstream.base_url must be an absolute URL, got %q", cfg.Upstream.BaseURL)
	}

	if cfg.Cookies.AccessTTL <= 0 || cfg.Cookies.RefreshTTL <= 0 {
		return nil, fmt.Errorf("invalid config: cookie ttl must be positive")
	}

	// В production cookie без Secure не выдаём.
	if cfg.Env == envProd {
		cfg.Cookies.AllowInsecure = false
	}

	cfg.HTTP.BasePath = strings.TrimRight(cfg.HTTP.BasePath, "/")

	return cfg, nil
}
