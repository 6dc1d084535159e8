package handlers

import (
	"net/http"

	"github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/services"
)

type NotificationsHandler struct {
	notifications services.NotificationService
}

func NewNotificationsHandler(notifications services.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications}
}

func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.notifications.List(r.Context(), middleware.GetUserID(r.Context()),
		r.URL.Query().Get("type"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, items)
}

func (h *NotificationsHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.UnreadCount(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]int64{"unread": n})
}

func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"id": id, "is_read": true})
}

func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]int64{"updated": n})
}
