package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	msgQueryRequired = "Query is required and must be a string"
	msgInvalidAgent  = "Invalid agent type specified"
)

// routeBody accepts an untyped query so a non-string is reported as such
// instead of as a decoding failure.
type routeBody struct {
	Query         interface{}    `json:"query"`
	Context       interface{}    `json:"context,omitempty"`
	ExplicitAgent models.AgentID `json:"explicitAgent,omitempty"`
	Tools         interface{}    `json:"tools,omitempty"`
}

// Route handles POST /route {query, context?, explicitAgent?, tools?}.
// Any of the five agents may be named explicitly.
func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	var body routeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	query, ok := body.Query.(string)
	if !ok || strings.TrimSpace(query) == "" {
		respondError(w, http.StatusBadRequest, msgQueryRequired)
		return
	}
	if body.ExplicitAgent != "" && !body.ExplicitAgent.Valid() {
		respondError(w, http.StatusBadRequest, msgInvalidAgent)
		return
	}

	ctx, ok := h.admit(w, r, h.workflowProviders(body.ExplicitAgent))
	if !ok {
		return
	}

	resp, err := h.Orchestrator.Route(ctx, &models.RouteRequest{
		Query:         query,
		Context:       body.Context,
		ExplicitAgent: body.ExplicitAgent,
		Tools:         body.Tools,
	})
	if err != nil {
		log.Warn().Err(err).Str("session", pkgmw.GetSessionID(ctx)).Msg("Route failed")
		respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type customerSuccessBody struct {
	Query           interface{}    `json:"query"`
	CustomerContext interface{}    `json:"customerContext,omitempty"`
	SpecificAgent   models.AgentID `json:"specificAgent,omitempty"`
}

// CustomerSuccess handles POST /api/v1/customer-success. Only the four
// specialized agents may be named; otherwise the query is classified.
func (h *Handlers) CustomerSuccess(w http.ResponseWriter, r *http.Request) {
	var body customerSuccessBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, msgQueryRequired)
		return
	}
	query, ok := body.Query.(string)
	if !ok || query == "" {
		respondError(w, http.StatusBadRequest, msgQueryRequired)
		return
	}
	if body.SpecificAgent != "" && !body.SpecificAgent.Specialized() {
		respondError(w, http.StatusBadRequest, msgInvalidAgent)
		return
	}

	ctx, ok := h.admit(w, r, h.workflowProviders(body.SpecificAgent))
	if !ok {
		return
	}

	var (
		resp *models.AgentResponse
		err  error
	)
	if body.SpecificAgent != "" {
		resp, err = h.Orchestrator.HandleWith(ctx, body.SpecificAgent, query, body.CustomerContext, nil)
	} else {
		resp, err = h.Orchestrator.Handle(ctx, query, body.CustomerContext, nil)
	}
	if err != nil {
		log.Error().Err(err).Msg("Error processing customer success query")
		respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
