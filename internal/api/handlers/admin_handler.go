package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/api/types"
	"github.com/sbt-vault/engine/internal/services"
	appErr "github.com/sbt-vault/engine/pkg/errors"
)

// AdminHandler serves the review console. Authorization is enforced by the
// services against the caller's stored role.
type AdminHandler struct {
	mint          services.MintService
	inventory     services.InventoryService
	notifications services.NotificationService
	identity      services.IdentityService
	analytics     services.AnalyticsService
	maxUpload     int64
}

type AdminDeps struct {
	Mint          services.MintService
	Inventory     services.InventoryService
	Notifications services.NotificationService
	Identity      services.IdentityService
	Analytics     services.AnalyticsService
	MaxUpload     int64
}

func NewAdminHandler(d AdminDeps) *AdminHandler {
	return &AdminHandler{
		mint:          d.Mint,
		inventory:     d.Inventory,
		notifications: d.Notifications,
		identity:      d.Identity,
		analytics:     d.Analytics,
		maxUpload:     d.MaxUpload,
	}
}

func (h *AdminHandler) Requests(w http.ResponseWriter, r *http.Request) {
	items, err := h.mint.List(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, items)
}

func (h *AdminHandler) VerifiedUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.mint.VerifiedRequesters(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, users)
}

func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.mint.Verify(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, req)
}

func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.mint.Reject(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, req)
}

func (h *AdminHandler) Assign(w http.ResponseWriter, r *http.Request) {
	artifactID, err := intParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, r, appErr.Validation(map[string]string{"user_id": "user_id must be a valid UUID"}))
		return
	}
	res, err := h.inventory.Assign(r.Context(), middleware.GetUserID(r.Context()), artifactID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

// Announce takes a multipart form with title, message and an optional image.
func (h *AdminHandler) Announce(w http.ResponseWriter, r *http.Request) {
	image, err := readUpload(w, r, "image", h.maxUpload, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.notifications.Broadcast(r.Context(), middleware.GetUserID(r.Context()), services.BroadcastInput{
		Title:   r.FormValue("title"),
		Message: r.FormValue("message"),
		Image:   image,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	writeData(w, r, status, res)
}

func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.ListUsers(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, users)
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	o, err := h.analytics.Overview(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, o)
}

func requestIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, appErr.New(appErr.CodeInvalid, "invalid id")
	}
	return id, nil
}
