// Package handlers implements the HTTP handlers for successdesk.
// All state goes through the Store interface; every call that reaches a
// language model is admitted by the QuotaGate first.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/agentoven/successdesk/internal/agents"
	"github.com/agentoven/successdesk/internal/catalog"
	"github.com/agentoven/successdesk/internal/clientlog"
	"github.com/agentoven/successdesk/internal/quota"
	"github.com/agentoven/successdesk/internal/router"
	"github.com/agentoven/successdesk/internal/store"
	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// KeyValidator validates a provider API key with a minimal call.
// Implementation: internal/router.KeyValidator
type KeyValidator interface {
	Validate(ctx context.Context, provider models.Provider, apiKey string) models.ValidationResult
}

// Options tunes handler behavior.
type Options struct {
	// ClassifierModel is the model the classifier calls; its provider must
	// be admitted before the default workflow runs.
	ClassifierModel string

	// TitleModel names new chats. Defaults to ClassifierModel.
	TitleModel string

	// ChatMessageLimit caps user messages per chat. Zero disables it.
	ChatMessageLimit int

	Version string
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        store.Store
	Router       *router.ModelRouter
	Catalog      *catalog.Catalog
	Orchestrator *agents.Orchestrator
	Quota        *quota.Gate
	KeyValidator KeyValidator
	ClientLogs   *clientlog.Buffer

	opts Options
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, mr *router.ModelRouter, cat *catalog.Catalog, orch *agents.Orchestrator, gate *quota.Gate, logs *clientlog.Buffer, opts Options) *Handlers {
	if opts.ClassifierModel == "" {
		opts.ClassifierModel = agents.DefaultClassifierModel
	}
	if opts.TitleModel == "" {
		opts.TitleModel = opts.ClassifierModel
	}
	return &Handlers{
		Store:        s,
		Router:       mr,
		Catalog:      cat,
		Orchestrator: orch,
		Quota:        gate,
		KeyValidator: mr.KeyValidator(),
		ClientLogs:   logs,
		opts:         opts,
	}
}

// ── Admission ───────────────────────────────────────────────

// admit records one accepted user message for the caller's session and
// returns a context carrying the credentials every model call of this
// request must use. On refusal the response has already been written.
func (h *Handlers) admit(w http.ResponseWriter, r *http.Request, providers []models.Provider) (context.Context, bool) {
	sessionID := pkgmw.GetSessionID(r.Context())
	grant, err := h.Quota.Admit(r.Context(), sessionID, providers...)
	if err != nil {
		var credErr *quota.CredentialRequiredError
		switch {
		case errors.As(err, &credErr):
			respondCredentialRequired(w, credErr.Provider)
		case errors.Is(err, quota.ErrContention):
			respondError(w, http.StatusConflict, "Too many concurrent requests for this session")
		default:
			log.Error().Err(err).Str("session", sessionID).Msg("Quota admission failed")
			respondError(w, http.StatusInternalServerError, "Failed to check message quota")
		}
		return nil, false
	}
	return router.WithCredentials(r.Context(), grant), true
}

// workflowProviders lists the providers a customer-success request may
// call: the classifier's (unless an agent is named) and the agent models'.
func (h *Handlers) workflowProviders(explicit models.AgentID) []models.Provider {
	need := make(map[models.Provider]bool, len(models.Providers))
	if explicit != "" {
		if def, err := h.Catalog.Lookup(explicit); err == nil {
			need[models.ProviderForModel(def.Model)] = true
		}
	} else {
		need[models.ProviderForModel(h.opts.ClassifierModel)] = true
		for _, def := range h.Catalog.List() {
			need[models.ProviderForModel(def.Model)] = true
		}
	}

	var out []models.Provider
	for _, p := range models.Providers {
		if need[p] {
			out = append(out, p)
		}
	}
	return out
}

// ── Response helpers ────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondCredentialRequired presents UserCredentialRequired as an actionable
// prompt rather than a generic failure.
func respondCredentialRequired(w http.ResponseWriter, provider models.Provider) {
	respondJSON(w, http.StatusPaymentRequired, map[string]string{
		"error":    "Free message limit reached. Please add your own " + string(provider) + " API key to continue.",
		"code":     "user_credential_required",
		"provider": string(provider),
	})
}

// respondAgentError maps the orchestrator's error taxonomy onto HTTP.
func respondAgentError(w http.ResponseWriter, err error) {
	var credErr *quota.CredentialRequiredError
	switch {
	case errors.As(err, &credErr):
		respondCredentialRequired(w, credErr.Provider)
	case errors.Is(err, agents.ErrEmptyQuery):
		respondError(w, http.StatusBadRequest, msgQueryRequired)
	case errors.Is(err, agents.ErrUnknownAgent):
		respondError(w, http.StatusBadRequest, msgInvalidAgent)
	default:
		respondError(w, http.StatusInternalServerError, "Failed to process the query")
	}
}

func queryLimit(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
