package handlers

import (
	"net/http"

	"github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/services"
	appErr "github.com/sbt-vault/engine/pkg/errors"
)

var realtimeTables = map[string]bool{
	"":                          true,
	services.TableProfiles:      true,
	services.TableMintRequests:  true,
	services.TableArtifacts:     true,
	services.TableNotifications: true,
}

type RealtimeHandler struct {
	hub      *realtime.Hub
	identity services.IdentityService
}

func NewRealtimeHandler(hub *realtime.Hub, identity services.IdentityService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, identity: identity}
}

// Subscribe streams change events over a websocket. Admins see every row;
// everyone else sees their own rows and public collection changes.
func (h *RealtimeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if !realtimeTables[table] {
		writeError(w, r, appErr.Validation(map[string]string{"table": "unknown table"}))
		return
	}
	userID := middleware.GetUserID(r.Context())
	view, err := h.identity.Resolve(r.Context(), userID, middleware.GetUserEmail(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := realtime.Filter{Table: table, UserID: userID, All: view.Role == models.RoleAdmin}
	h.hub.ServeWS(w, r, f)
}

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// Activity lists the latest change events the caller may see, newest first.
func (h *RealtimeHandler) Activity(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if !realtimeTables[table] {
		writeError(w, r, appErr.Validation(map[string]string{"table": "unknown table"}))
		return
	}
	limit := queryInt(r, "limit")
	if limit == 0 {
		limit = defaultActivityLimit
	}
	if limit < 1 || limit > maxActivityLimit {
		writeError(w, r, appErr.Validation(map[string]string{"limit": "limit must be between 1 and 100"}))
		return
	}
	userID := middleware.GetUserID(r.Context())
	view, err := h.identity.Resolve(r.Context(), userID, middleware.GetUserEmail(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := realtime.Filter{Table: table, UserID: userID, All: view.Role == models.RoleAdmin}

	events := make([]realtime.Event, 0, limit)
	for _, e := range h.hub.Recent(0) {
		if len(events) == limit {
			break
		}
		if f.Matches(e) {
			events = append(events, e)
		}
	}
	writeData(w, r, http.StatusOK, events)
}
