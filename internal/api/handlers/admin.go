package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/successdesk/internal/store"
	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

func operatorSubject(r *http.Request) string {
	if op := pkgmw.GetOperator(r.Context()); op != nil {
		return op.Subject
	}
	return "anonymous"
}

// UpdateAgent handles PATCH /api/v1/admin/agents/{agentID}.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := models.AgentID(chi.URLParam(r, "agentID"))

	var patch models.AgentPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	def, err := h.Catalog.Update(r.Context(), id, patch)
	if err != nil {
		respondCatalogError(w, err)
		return
	}
	log.Info().Str("agent", string(id)).Str("operator", operatorSubject(r)).Msg("Agent edited")
	respondJSON(w, http.StatusOK, def)
}

// ResetAgent handles POST /api/v1/admin/agents/{agentID}/reset.
func (h *Handlers) ResetAgent(w http.ResponseWriter, r *http.Request) {
	id := models.AgentID(chi.URLParam(r, "agentID"))
	def, err := h.Catalog.Reset(r.Context(), id)
	if err != nil {
		respondCatalogError(w, err)
		return
	}
	log.Info().Str("agent", string(id)).Str("operator", operatorSubject(r)).Msg("Agent reset to built-in definition")
	respondJSON(w, http.StatusOK, def)
}

// ResetQuota handles POST /api/v1/admin/sessions/{sessionID}/quota/reset.
func (h *Handlers) ResetQuota(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Quota.Reset(r.Context(), sessionID); err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st, err := h.Quota.Status(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// ListTraces handles GET /api/v1/admin/traces?limit=.
func (h *Handlers) ListTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := h.Store.ListTraces(r.Context(), queryLimit(r, 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []models.Trace{}
	}
	respondJSON(w, http.StatusOK, traces)
}

// GetCostSummary handles GET /api/v1/admin/cost.
func (h *Handlers) GetCostSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Router.GetCostSummary())
}

// ListClientLogs handles GET /api/v1/admin/logs?limit=.
func (h *Handlers) ListClientLogs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.ClientLogs.Recent(queryLimit(r, 100)))
}
