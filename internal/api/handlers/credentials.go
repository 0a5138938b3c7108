package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/successdesk/internal/router"
	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type apiKeyBody struct {
	APIKey string `json:"apiKey"`
}

// providerParam parses {provider}; on failure a 404 has been written.
func providerParam(w http.ResponseWriter, r *http.Request) (models.Provider, bool) {
	p, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return p, true
}

// ValidateKey handles POST /validate/{provider} {apiKey}. The validation outcome
// is always reported in the body; provider internals beyond the message
// text are never exposed.
func (h *Handlers) ValidateKey(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	var body apiKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	respondJSON(w, http.StatusOK, h.KeyValidator.Validate(r.Context(), provider, body.APIKey))
}

// SetCredential handles PUT /api/v1/credentials/{provider} {apiKey}.
// Only a key that passes validation is stored.
func (h *Handlers) SetCredential(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	var body apiKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := h.KeyValidator.Validate(r.Context(), provider, body.APIKey)
	if !result.IsValid {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	sessionID := pkgmw.GetSessionID(r.Context())
	if err := h.Quota.SetUserCredential(r.Context(), sessionID, provider, body.APIKey); err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("Failed to store user credential")
		respondError(w, http.StatusInternalServerError, "Failed to store API key")
		return
	}

	log.Info().Str("session", sessionID).Str("provider", string(provider)).Str("key", router.MaskKey(body.APIKey)).Msg("User API key stored")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider": provider,
		"stored":   true,
		"key":      router.MaskKey(body.APIKey),
	})
}

// DeleteCredential handles DELETE /api/v1/credentials/{provider}.
func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	if err := h.Quota.ClearUserCredential(r.Context(), pkgmw.GetSessionID(r.Context()), provider); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetQuota handles GET /api/v1/quota.
func (h *Handlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	st, err := h.Quota.Status(r.Context(), pkgmw.GetSessionID(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}
