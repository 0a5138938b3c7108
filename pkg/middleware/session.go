// Package middleware provides shared request-context helpers for successdesk.
//
// It lives in pkg/ so that the router, the agents and the HTTP layer can read
// the same values without importing each other.
package middleware

import "context"

type contextKey string

const sessionKey contextKey = "session"

// GetSessionID extracts the browser session id from the context.
// Returns "" if no session is set (CLI calls, background jobs).
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

// SetSessionID stores the browser session id in the context.
func SetSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}
