package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/successdesk/pkg/contracts"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrContention means the admission loop lost the compare-and-swap too many
// times in a row.
var ErrContention = errors.New("quota: too much concurrent activity on session")

const maxAdmitAttempts = 16

// Store is the session state the gate reads and writes.
// Implementation: internal/store
type Store interface {
	EnsureSession(ctx context.Context, id string) (*models.Session, error)
	CompareAndIncrement(ctx context.Context, id string, expected int) (bool, error)
	ResetMessageCount(ctx context.Context, id string) error

	SetUserCredential(ctx context.Context, sessionID string, provider models.Provider, sealed string) error
	ListUserCredentials(ctx context.Context, sessionID string) (map[models.Provider]string, error)
	DeleteUserCredential(ctx context.Context, sessionID string, provider models.Provider) error
}

// Gate decides, per session, whose credentials pay for each model call.
// All state lives in the Store, keyed by session id.
type Gate struct {
	store  Store
	sealer *Sealer
	shared map[models.Provider]string
	limit  int
}

// NewGate creates a gate. shared holds the process-wide keys; a limit below
// zero falls back to DefaultFreeMessageLimit.
func NewGate(store Store, sealer *Sealer, shared map[models.Provider]string, limit int) *Gate {
	if limit < 0 {
		limit = DefaultFreeMessageLimit
	}
	cp := make(map[models.Provider]string, len(shared))
	for p, k := range shared {
		if k != "" {
			cp[p] = k
		}
	}
	return &Gate{store: store, sealer: sealer, shared: cp, limit: limit}
}

// Limit returns the free message limit.
func (g *Gate) Limit() int { return g.limit }

// MessageCount returns the session's accepted message count, creating the
// session at zero on first access.
func (g *Gate) MessageCount(ctx context.Context, sessionID string) (int, error) {
	sess, err := g.store.EnsureSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return sess.MessageCount, nil
}

// RecordMessage adds exactly one to the session's count and returns the new value.
func (g *Gate) RecordMessage(ctx context.Context, sessionID string) (int, error) {
	for attempt := 0; attempt < maxAdmitAttempts; attempt++ {
		count, err := g.MessageCount(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		ok, err := g.store.CompareAndIncrement(ctx, sessionID, count)
		if err != nil {
			return 0, err
		}
		if ok {
			return count + 1, nil
		}
	}
	return 0, ErrContention
}

// ResolveCredential returns the key the session's next call to provider
// must use, or a *CredentialRequiredError.
func (g *Gate) ResolveCredential(ctx context.Context, sessionID string, provider models.Provider) (string, error) {
	count, err := g.MessageCount(ctx, sessionID)
	if err != nil {
		return "", err
	}
	user, err := g.userKeys(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return Resolve(provider, count, g.limit, g.shared[provider], user[provider])
}

// RequiresUserKeys reports whether a session at count has used up the free tier.
func (g *Gate) RequiresUserKeys(count int) bool {
	return count >= g.limit
}

// Admit accepts one user message. It resolves credentials for every provider
// the request needs against the current count; if any is missing nothing is
// recorded and the *CredentialRequiredError is returned. Otherwise the count
// is incremented atomically and the returned Grant carries the credentials
// chosen at the pre-increment count.
func (g *Gate) Admit(ctx context.Context, sessionID string, providers ...models.Provider) (*Grant, error) {
	user, err := g.userKeys(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxAdmitAttempts; attempt++ {
		count, err := g.MessageCount(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		grant := &Grant{Count: count, limit: g.limit, shared: g.shared, user: user}
		for _, p := range providers {
			if _, err := grant.Credential(p); err != nil {
				log.Info().
					Str("session", sessionID).
					Str("provider", string(p)).
					Int("count", count).
					Msg("Message refused: user API key required")
				return nil, err
			}
		}

		ok, err := g.store.CompareAndIncrement(ctx, sessionID, count)
		if err != nil {
			return nil, err
		}
		if ok {
			return grant, nil
		}
	}
	return nil, ErrContention
}

// Reset sets the session's count back to zero.
func (g *Gate) Reset(ctx context.Context, sessionID string) error {
	if err := g.store.ResetMessageCount(ctx, sessionID); err != nil {
		return err
	}
	log.Info().Str("session", sessionID).Msg("Quota reset")
	return nil
}

// SetUserCredential stores a (validated) user key for the session, sealed.
func (g *Gate) SetUserCredential(ctx context.Context, sessionID string, provider models.Provider, apiKey string) error {
	sealed, err := g.sealer.Seal(apiKey)
	if err != nil {
		return err
	}
	if _, err := g.store.EnsureSession(ctx, sessionID); err != nil {
		return err
	}
	return g.store.SetUserCredential(ctx, sessionID, provider, sealed)
}

// ClearUserCredential forgets the session's key for provider.
func (g *Gate) ClearUserCredential(ctx context.Context, sessionID string, provider models.Provider) error {
	return g.store.DeleteUserCredential(ctx, sessionID, provider)
}

// Status summarizes the session's quota for the UI.
func (g *Gate) Status(ctx context.Context, sessionID string) (*models.QuotaStatus, error) {
	count, err := g.MessageCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	user, err := g.userKeys(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	remaining := g.limit - count
	if remaining < 0 {
		remaining = 0
	}
	st := &models.QuotaStatus{
		MessageCount:        count,
		Limit:               g.limit,
		Remaining:           remaining,
		RequiresUserAPIKeys: g.RequiresUserKeys(count),
		Providers:           make(map[models.Provider]models.ProviderCredentialStatus, len(models.Providers)),
	}
	for _, p := range models.Providers {
		st.Providers[p] = models.ProviderCredentialStatus{
			Shared: g.shared[p] != "",
			User:   user[p] != "",
		}
	}
	return st, nil
}

// userKeys unseals the session's stored keys. A key that no longer unseals
// is treated as absent.
func (g *Gate) userKeys(ctx context.Context, sessionID string) (map[models.Provider]string, error) {
	sealed, err := g.store.ListUserCredentials(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list user credentials: %w", err)
	}
	out := make(map[models.Provider]string, len(sealed))
	for p, s := range sealed {
		key, err := g.sealer.Open(s)
		if err != nil {
			log.Warn().Str("session", sessionID).Str("provider", string(p)).Err(err).Msg("Ignoring unreadable user credential")
			continue
		}
		out[p] = key
	}
	return out, nil
}

// Grant is the outcome of an admitted message: the credential snapshot every
// model call made for that message uses.
type Grant struct {
	// Count is the message count before this message was recorded.
	Count int

	limit  int
	shared map[models.Provider]string
	user   map[models.Provider]string
}

var _ contracts.CredentialSource = (*Grant)(nil)

// Credential resolves provider at the snapshot count.
func (g *Grant) Credential(provider models.Provider) (string, error) {
	return Resolve(provider, g.Count, g.limit, g.shared[provider], g.user[provider])
}
