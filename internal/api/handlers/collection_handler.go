package handlers

import (
	"net/http"

	"github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/api/types"
	"github.com/sbt-vault/engine/internal/services"
)

type CollectionHandler struct {
	inventory services.InventoryService
}

func NewCollectionHandler(inventory services.InventoryService) *CollectionHandler {
	return &CollectionHandler{inventory: inventory}
}

func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.inventory.List(r.Context(), services.CollectionFilter{
		Status:   q.Get("status"),
		Query:    q.Get("q"),
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    page.Items,
		Meta: &types.Meta{
			RequestID: middleware.GetRequestID(r.Context()),
			Page:      page.Page,
			PageSize:  page.PageSize,
			Total:     page.Total,
		},
	})
}

func (h *CollectionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inventory.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, stats)
}

func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.inventory.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, a)
}
