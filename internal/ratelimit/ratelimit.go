// ratelimit ограничивает частоту sign-in/sign-up по ключу (обычно IP клиента).
//
// Две реализации: Memory (token bucket на процесс) и Redis (фиксированное
// окно, общее для всех реплик BFF). Обе при сбое пропускают запрос.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter решает, пропускать ли очередной запрос по ключу.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

const idleTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Memory — token bucket на ключ: limit запросов за window, всплеск до burst.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	now     func() time.Time
}

func NewMemory(limit int, window time.Duration, burst int) *Memory {
	every := rate.Inf
	if limit > 0 && window > 0 {
		every = rate.Every(window / time.Duration(limit))
	}

	if burst <= 0 {
		burst = 1
	}

	return &Memory{
		buckets: make(map[string]*bucket),
		every:   every,
		burst:   burst,
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) bool {
	if key == "" {
		key = "unknown"
	}

	now := m.now()

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.every, m.burst)}
		m.buckets[key] = b
	}
	b.seen = now
	m.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// Sweep удаляет ключи, не встречавшиеся дольше idleTTL. Возвращает число удалённых.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, b := range m.buckets {
		if now.Sub(b.seen) > idleTTL {
			delete(m.buckets, k)
			n++
		}
	}

	return n
}

// Run периодически вызывает Sweep до отмены ctx.
func (m *Memory) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
