package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Фиксированное окно: INCR, на первом попадании PEXPIRE.
const windowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

const redisCallTimeout = 250 * time.Millisecond

// Redis — лимитер с общим для всех реплик окном.
type Redis struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	script *redis.Script
	log    *slog.Logger
}

func NewRedis(client redis.Scripter, limit int, window time.Duration, prefix string, l *slog.Logger) *Redis {
	if l == nil {
		l = slog.Default()
	}

	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		script: redis.NewScript(windowScript),
		log:    l,
	}
}

// Allow пропускает запрос, если Redis недоступен.
func (l *Redis) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}

	if key == "" {
		key = "unknown"
	}

	if l.prefix != "" {
		key = l.prefix + ":" + key
	}

	ttl := l.window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisCallTimeout)
	defer cancel()

	allowed, err := l.script.Run(ctx, l.client, []string{key}, ttl, l.limit).Int64()
	if err != nil {
		l.log.Warn("ratelimit_redis_failed", slog.String("err", err.Error()))
		return true
	}

	return allowed == 1
}
