package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/sbt-vault/engine/internal/api/types"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
)

// Recovery logs panics and returns 500 in the API envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.L().Error("panic recovered",
					zap.String("id", GetRequestID(r.Context())),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
				writeEnvelopeError(w, r, http.StatusInternalServerError, appErr.CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeEnvelopeError(w http.ResponseWriter, r *http.Request, status int, code appErr.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.APIResponse{
		Success: false,
		Error:   &types.APIError{Code: string(code), Message: msg},
		Meta:    &types.Meta{RequestID: GetRequestID(r.Context())},
	})
}
