package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/successdesk/pkg/contracts"
	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// OperatorAuth guards the admin surface.
//
// A request must carry a valid key via Authorization: Bearer <key> or
// X-API-Key. When the authenticator has no keys configured, requests pass
// only if allowOpen is set (development); otherwise the surface is closed
// with 403.
func OperatorAuth(authn contracts.OperatorAuthenticator, allowOpen bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authn.Enabled() {
				if allowOpen {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "forbidden",
					"message": "Operator API is disabled. Set OPERATOR_API_KEYS to enable it.",
				})
				return
			}

			op, err := authn.Authenticate(r.Context(), r)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Operator authentication failed")
				respondUnauthorized(w, "Invalid API key.")
				return
			}
			if op == nil {
				respondUnauthorized(w, "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
				return
			}

			log.Debug().Str("operator", op.Subject).Str("path", r.URL.Path).Msg("Operator request")
			next.ServeHTTP(w, r.WithContext(pkgmw.SetOperator(r.Context(), op)))
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="successdesk"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
