package handlers

import (
	"errors"
	"net/http"

	"github.com/agentoven/successdesk/internal/catalog"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/go-chi/chi/v5"
)

// ListChatModels handles GET /api/v1/models.
func (h *Handlers) ListChatModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models":       h.Catalog.ChatModels(),
		"defaultModel": models.ModelCustomerSuccess,
	})
}

// ListAgents handles GET /api/v1/agents, in declaration order.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Catalog.List())
}

// GetAgent handles GET /api/v1/agents/{agentID}.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	def, err := h.Catalog.Lookup(models.AgentID(chi.URLParam(r, "agentID")))
	if err != nil {
		respondCatalogError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func respondCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrUnknownAgent):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrGeneralAlwaysEnabled), errors.Is(err, catalog.ErrInvalidPatch):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
