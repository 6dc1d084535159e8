package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/services"
	appErr "github.com/sbt-vault/engine/pkg/errors"
)

type userKeyType string

const (
	UserIDKey    userKeyType = "user_id"
	UserEmailKey userKeyType = "user_email"
)

// TokenParser validates access tokens.
type TokenParser interface {
	ParseToken(token string) (*services.Claims, error)
}

// Auth validates a Bearer JWT and adds the subject and email to context.
// Browsers cannot set headers on websocket handshakes, so an access_token
// query parameter is accepted as well.
func Auth(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				writeEnvelopeError(w, r, http.StatusUnauthorized, appErr.CodeUnauthorized, "missing bearer token")
				return
			}
			claims, err := parser.ParseToken(tokenStr)
			if err != nil {
				writeEnvelopeError(w, r, http.StatusUnauthorized, appErr.CodeUnauthorized, "invalid or expired token")
				return
			}
			uid, _ := uuid.Parse(claims.Subject)
			ctx := context.WithValue(r.Context(), UserIDKey, uid)
			ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	ah := r.Header.Get("Authorization")
	if len(ah) > len("bearer ") && strings.EqualFold(ah[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(ah[len("bearer "):])
	}
	return r.URL.Query().Get("access_token")
}

func GetUserID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func GetUserEmail(ctx context.Context) string {
	if v, ok := ctx.Value(UserEmailKey).(string); ok {
		return v
	}
	return ""
}
