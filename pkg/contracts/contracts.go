// Package contracts defines the service interfaces shared across successdesk
// packages.
//
// The agents package depends only on Invoker, so the classifier and dispatcher
// can be driven by the real ModelRouter or by a fake in tests.
package contracts

import (
	"context"

	"github.com/agentoven/successdesk/pkg/models"
)

// ── Language Model Invocation ───────────────────────────────

// Invoker calls a language model once.
// Implementation: internal/router.ModelRouter
type Invoker interface {
	Invoke(ctx context.Context, req *models.InvokeRequest) (*models.InvokeResponse, error)
}

// ProviderDriver speaks one vendor's API.
type ProviderDriver interface {
	// Kind returns the provider this driver serves.
	Kind() models.Provider

	// Call performs a single completion with the given API key.
	Call(ctx context.Context, apiKey string, req *models.InvokeRequest) (*models.InvokeResponse, error)
}

// ── Credentials ─────────────────────────────────────────────

// CredentialSource yields the API key a call must use for a provider.
// Implementation: internal/quota.Grant
type CredentialSource interface {
	Credential(provider models.Provider) (string, error)
}
