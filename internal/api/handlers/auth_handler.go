package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/sbt-vault/engine/internal/api/types"
	"github.com/sbt-vault/engine/internal/security"
	"github.com/sbt-vault/engine/internal/services"
	appErr "github.com/sbt-vault/engine/pkg/errors"
)

// Classifier assesses the network origin of a request.
type Classifier interface {
	Classify(ctx context.Context, address string) security.Assessment
}

type AuthHandler struct {
	auth services.AuthService
	gate Classifier
}

func NewAuthHandler(auth services.AuthService, gate Classifier) *AuthHandler {
	return &AuthHandler{auth: auth, gate: gate}
}

// Register classifies the caller before the account is created.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	origin := services.SignupOrigin{
		Assessment:  h.gate.Classify(r.Context(), security.ClientAddress(r)),
		Fingerprint: security.Fingerprint(req.DeviceSignals),
	}
	p, err := h.auth.Register(r.Context(), req.RegisterInput, origin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, p)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	fields := map[string]string{}
	if strings.TrimSpace(req.Email) == "" {
		fields["email"] = "email is required"
	}
	if req.Password == "" {
		fields["password"] = "password is required"
	}
	if len(fields) > 0 {
		writeError(w, r, appErr.Validation(fields))
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

// IPCheck reports how the caller's address is classified.
func (h *AuthHandler) IPCheck(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, h.gate.Classify(r.Context(), security.ClientAddress(r)))
}
