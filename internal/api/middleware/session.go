package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentoven/successdesk/internal/sessions"
	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// SessionHeader carries the session token for API clients without cookies.
// A freshly issued token is also echoed back in it.
const SessionHeader = "X-Session-Token"

// SessionStore creates or touches the session row.
// Implementation: internal/store
type SessionStore interface {
	EnsureSession(ctx context.Context, id string) (*models.Session, error)
}

// Sessions attaches an anonymous browser session to every request.
//
// The token is read from the X-Session-Token header, then from the session
// cookie. A missing, expired or forged token gets a brand new session.
type Sessions struct {
	issuer     *sessions.Issuer
	store      SessionStore
	cookieName string
	secure     bool
}

// NewSessions creates the session middleware. secure marks the cookie
// Secure and should be true outside development.
func NewSessions(issuer *sessions.Issuer, store SessionStore, cookieName string, secure bool) *Sessions {
	if cookieName == "" {
		cookieName = "successdesk_session"
	}
	return &Sessions{issuer: issuer, store: store, cookieName: cookieName, secure: secure}
}

// Handler returns the HTTP middleware.
func (s *Sessions) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := s.issuer.Verify(s.token(r))
		if err != nil {
			var token string
			sessionID, token, err = s.issuer.NewSession()
			if err != nil {
				log.Error().Err(err).Msg("Failed to issue session")
				respondJSONError(w, http.StatusInternalServerError, "Failed to start session")
				return
			}
			s.setCookie(w, token)
			w.Header().Set(SessionHeader, token)
		}

		if _, err := s.store.EnsureSession(r.Context(), sessionID); err != nil {
			log.Error().Err(err).Str("session", sessionID).Msg("Failed to load session")
			respondJSONError(w, http.StatusInternalServerError, "Failed to load session")
			return
		}

		next.ServeHTTP(w, r.WithContext(pkgmw.SetSessionID(r.Context(), sessionID)))
	})
}

func (s *Sessions) token(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get(SessionHeader)); h != "" {
		return h
	}
	if c, err := r.Cookie(s.cookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *Sessions) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.issuer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func respondJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
