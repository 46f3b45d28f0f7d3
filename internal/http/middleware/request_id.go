package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/pribylovaa/lawfirm-bff/internal/gateway/transport"
)

const maxRequestIDLen = 128

// RequestID обеспечивает наличие X-Request-Id: берёт входящий или генерирует
// 32 hex-символа, отдаёт в ответе и кладёт в контекст для вызовов апстрима.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" || len(id) > maxRequestIDLen {
				id = genID()
				r.Header.Set("X-Request-Id", id)
			}
			w.Header().Set("X-Request-Id", id)

			next.ServeHTTP(w, r.WithContext(transport.WithRequestID(r.Context(), id)))
		})
	}
}

func genID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
