package contracts

import (
	"context"
	"net/http"
)

// ── Operators ───────────────────────────────────────────────

// Operator is an authenticated caller of the admin surface.
type Operator struct {
	// Subject identifies the credential that authenticated the request
	// (a truncated hash, never the key itself).
	Subject string `json:"subject"`

	// Method names how the operator authenticated, e.g. "apikey".
	Method string `json:"method"`
}

// OperatorAuthenticator authenticates admin requests.
//
// Contract:
//   - (*Operator, nil) → authenticated
//   - (nil, nil) → no credential present on the request
//   - (nil, error) → a credential was presented and rejected
type OperatorAuthenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Operator, error)

	// Enabled reports whether any operator credential is configured.
	Enabled() bool
}
