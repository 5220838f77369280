// Package middleware содержит HTTP middleware реферального леджера.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mmeshcher/referral-ledger/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

const authCookieName = "auth_token"

// RoleAdmin обозначает роль администратора программы.
const RoleAdmin = "admin"

// Principal описывает аутентифицированного участника.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Identity возвращает учётную запись участника.
func (p Principal) Identity() model.Identity {
	return model.Identity{ID: p.ID, Email: p.Email}
}

// IsAdmin сообщает, что у участника есть права администратора.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// AuthMiddleware выполняет проверку аутентификации по подписанному токену
// из cookie auth_token или заголовка Authorization. Cookie выставляет фронтенд магазина.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен и добавляет участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(authCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		p, ok := a.parseToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin пропускает только администраторов. Используется после Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", "administrator privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Token подписывает данные участника: base64(json) + "." + hex(hmac).
func (a *AuthMiddleware) Token(p Principal) string {
	raw, _ := json.Marshal(p)
	body := base64.RawURLEncoding.EncodeToString(raw)
	return body + "." + a.sign(body)
}

func (a *AuthMiddleware) sign(body string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (Principal, bool) {
	body, signature, ok := strings.Cut(token, ".")
	if !ok || body == "" {
		return Principal{}, false
	}

	if !hmac.Equal([]byte(signature), []byte(a.sign(body))) {
		return Principal{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Principal{}, false
	}

	var p Principal
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return Principal{}, false
	}
	return p, true
}

// PrincipalFromContext извлекает участника из контекста запроса.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal кладёт участника в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
