package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSessionExpired — refresh не удался: сессия считается истёкшей.
var ErrSessionExpired = errors.New("session expired")

const defaultRefreshTimeout = 10 * time.Second

// RefreshFunc выполняет один сетевой refresh и возвращает новый access-токен.
type RefreshFunc func(ctx context.Context) (string, error)

// pendingRefresh — единственный refresh в полёте. done закрывается после
// записи token/err, читать их можно только после <-done.
type pendingRefresh struct {
	done  chan struct{}
	token string
	err   error
}

// Coordinator сводит конкурентные refresh в один сетевой вызов.
//
// Поколение (generation) увеличивается при каждом завершении refresh, успешном
// или нет. Вызывающий запоминает поколение до отправки запроса; если к моменту
// его 401 refresh уже завершился, он получает итог этого refresh вместо
// запуска нового.
type Coordinator struct {
	refresh RefreshFunc
	timeout time.Duration

	mu        sync.Mutex
	pending   *pendingRefresh
	gen       uint64
	lastToken string
	lastErr   error
	onExpired []func(error)
}

// NewCoordinator создаёт координатор. timeout ограничивает один refresh (<=0 — 10s).
func NewCoordinator(refresh RefreshFunc, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}

	return &Coordinator{refresh: refresh, timeout: timeout}
}

// Generation — текущее поколение.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen
}

// OnExpired регистрирует обработчик потери сессии (неудачный refresh или Expire).
func (c *Coordinator) OnExpired(fn func(error)) {
	if fn == nil {
		return
	}

	c.mu.Lock()
	c.onExpired = append(c.onExpired, fn)
	c.mu.Unlock()
}

// EnsureFreshToken присоединяется к refresh в полёте или запускает новый.
func (c *Coordinator) EnsureFreshToken(ctx context.Context) (string, error) {
	return c.EnsureFreshTokenSince(ctx, c.Generation())
}

// EnsureFreshTokenSince — как EnsureFreshToken, но если после поколения gen
// refresh уже завершился, сразу возвращает его итог.
//
// Сам refresh не привязан к отмене ctx вызывающего: уход одного ожидающего
// не прерывает refresh для остальных.
func (c *Coordinator) EnsureFreshTokenSince(ctx context.Context, gen uint64) (string, error) {
	c.mu.Lock()
	if c.gen != gen {
		token, err := c.lastToken, c.lastErr
		c.mu.Unlock()
		return token, err
	}

	p := c.pending
	if p == nil {
		p = &pendingRefresh{done: make(chan struct{})}
		c.pending = p
		go c.run(context.WithoutCancel(ctx), p)
	}
	c.mu.Unlock()

	select {
	case <-p.done:
		return p.token, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, p *pendingRefresh) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.refresh(ctx)
	if err == nil && token == "" {
		err = errors.New("empty access token")
	}

	if err != nil {
		token, err = "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	c.mu.Lock()
	p.token, p.err = token, err
	c.pending = nil
	c.gen++
	c.lastToken, c.lastErr = token, err
	c.mu.Unlock()

	// Слушатели узнают о потере сессии раньше, чем ожидающие получат ошибку.
	if err != nil {
		c.notifyExpired(err)
	}

	close(p.done)
}

// Reset забывает итог прошлого refresh после нового входа: запросы, ушедшие
// до входа, повторяются с новыми cookie вместо старой ErrSessionExpired.
// Refresh в полёте не прерывается.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.gen++
	c.lastToken, c.lastErr = "", nil
	c.mu.Unlock()
}

// Expire сообщает слушателям о потере сессии без refresh, например когда
// 401 пережил повтор.
func (c *Coordinator) Expire(err error) {
	if err == nil {
		err = ErrSessionExpired
	}
	c.notifyExpired(err)
}

func (c *Coordinator) notifyExpired(err error) {
	c.mu.Lock()
	listeners := append([]func(error){}, c.onExpired...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}
