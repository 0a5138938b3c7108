package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/rs/zerolog/log"
)

const maxClientLogBytes = 64 << 10

// ClientLog handles POST /api/log. Any JSON body is accepted.
func (h *Handlers) ClientLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxClientLogBytes))
	if err != nil || !json.Valid(body) {
		http.Error(w, "Invalid log entry", http.StatusBadRequest)
		return
	}

	sessionID := pkgmw.GetSessionID(r.Context())
	h.ClientLogs.Write(sessionID, body)
	log.Info().
		Str("source", "client").
		Str("session", sessionID).
		RawJSON("body", body).
		Msg("Client log")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "Logged")
}

// Health reports liveness and store reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "successdesk",
			"error":   err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "successdesk",
	})
}

// Version reports the build version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.opts.Version,
		"service": "successdesk",
	})
}
