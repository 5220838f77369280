package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ServiceToken пропускает запросы доверенного сервиса оформления заказов по общему токену
// в заголовке Authorization. Пустой токен закрывает доступ полностью.
func ServiceToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "service token missing")
				return
			}

			token := strings.TrimPrefix(h, "Bearer ")
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid service token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
