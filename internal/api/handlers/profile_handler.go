package handlers

import (
	"net/http"

	"github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/services"
)

type ProfileHandler struct {
	identity  services.IdentityService
	maxUpload int64
}

func NewProfileHandler(identity services.IdentityService, maxUpload int64) *ProfileHandler {
	return &ProfileHandler{identity: identity, maxUpload: maxUpload}
}

func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	view, err := h.identity.Resolve(r.Context(), middleware.GetUserID(r.Context()), middleware.GetUserEmail(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, view)
}

func (h *ProfileHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	view, err := h.identity.Refresh(r.Context(), middleware.GetUserID(r.Context()), middleware.GetUserEmail(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, view)
}

func (h *ProfileHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r, "avatar", h.maxUpload, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.identity.UpdateAvatar(r.Context(), middleware.GetUserID(r.Context()), middleware.GetUserEmail(r.Context()), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, view)
}
