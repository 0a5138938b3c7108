// Package auth authenticates operators of the successdesk admin surface.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/agentoven/successdesk/pkg/contracts"
)

// ErrInvalidAPIKey is returned when a presented operator key matches nothing.
var ErrInvalidAPIKey = errors.New("invalid API key")

// APIKeyProvider validates operator keys from the Authorization: Bearer <key>
// or X-API-Key headers.
//
// Config: OPERATOR_API_KEYS (comma-separated list).
type APIKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]bool
}

// NewAPIKeyProvider creates a provider accepting the given keys.
// Blank entries are ignored; with no keys the provider is disabled.
func NewAPIKeyProvider(keys []string) *APIKeyProvider {
	p := &APIKeyProvider{keys: make(map[string]bool)}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			p.keys[key] = true
		}
	}
	return p
}

var _ contracts.OperatorAuthenticator = (*APIKeyProvider)(nil)

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate validates the API key and returns the operator.
// Returns (nil, nil) if no API key is present.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Operator, error) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		return nil, nil
	}
	if !p.validateKey(apiKey) {
		return nil, ErrInvalidAPIKey
	}

	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(apiKey)))
	return &contracts.Operator{
		Subject: "apikey:" + keyHash[:16],
		Method:  "apikey",
	}, nil
}

func (p *APIKeyProvider) validateKey(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// AddKey adds a new API key at runtime.
func (p *APIKeyProvider) AddKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = true
}

// RemoveKey removes an API key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
