package transport

import (
	"context"
	"io"
	"net/http"
	"time"
)

// WithTimeout ограничивает каждый исходящий вызов таймаутом d.
//
// Контракт:
//  1. d <= 0 — запрос уходит как есть;
//  2. иначе — ctx оборачивается через context.WithTimeout(ctx, d); более ранний
//     дедлайн родителя (бюджет входящего запроса) остаётся в силе;
//  3. cancel() вызывается при ошибке или при закрытии тела ответа, чтобы дедлайн
//     покрывал и чтение body.
func WithTimeout(d time.Duration) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if d <= 0 {
			return next
		}

		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			resp, err := next.RoundTrip(r.WithContext(ctx))
			if err != nil {
				cancel()
				return nil, err
			}

			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		})
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
