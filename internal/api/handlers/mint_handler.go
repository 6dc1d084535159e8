package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/services"
	appErr "github.com/sbt-vault/engine/pkg/errors"
)

type MintHandler struct {
	mint      services.MintService
	maxUpload int64
}

func NewMintHandler(mint services.MintService, maxUpload int64) *MintHandler {
	return &MintHandler{mint: mint, maxUpload: maxUpload}
}

// Submit accepts a multipart form with the payment proof image.
func (h *MintHandler) Submit(w http.ResponseWriter, r *http.Request) {
	proof, err := readUpload(w, r, "proof", h.maxUpload, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.mint.Submit(r.Context(), middleware.GetUserID(r.Context()), services.SubmitInput{
		PlatformUsername: r.FormValue("platform_username"),
		Proof:            proof,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, req)
}

// Active returns the caller's pending or verified request, or null.
func (h *MintHandler) Active(w http.ResponseWriter, r *http.Request) {
	req, err := h.mint.GetActive(r.Context(), middleware.GetUserID(r.Context()))
	if appErr.IsCode(err, appErr.CodeNotFound) {
		// An explicit null; a nil interface would be dropped by omitempty.
		writeData(w, r, http.StatusOK, json.RawMessage("null"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, req)
}

func (h *MintHandler) History(w http.ResponseWriter, r *http.Request) {
	items, err := h.mint.History(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, items)
}
