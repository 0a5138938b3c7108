// Package quota implements the per-session free-tier gate.
//
// Every browser session gets DefaultFreeMessageLimit messages paid for by
// the shared (environment) credentials. After that the session must supply
// its own key for each provider it uses; the shared key is never used again
// for that session, even if one is configured.
package quota

import (
	"errors"
	"fmt"

	"github.com/agentoven/successdesk/pkg/models"
)

// DefaultFreeMessageLimit is the number of messages a session may send on
// shared credentials.
const DefaultFreeMessageLimit = 10

// ErrUserCredentialRequired means the session must supply its own API key
// before the request can proceed.
var ErrUserCredentialRequired = errors.New("user API key required")

// CredentialRequiredError names the provider that needs a user key.
type CredentialRequiredError struct {
	Provider models.Provider
}

func (e *CredentialRequiredError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, ErrUserCredentialRequired)
}

func (e *CredentialRequiredError) Is(target error) bool { return target == ErrUserCredentialRequired }

// Resolve picks the credential for one provider. It depends only on its
// arguments:
//
//   - a user key, when present, always wins;
//   - below the limit the shared key is used;
//   - at or past the limit, or with no key at all, the caller must ask the
//     user for one.
func Resolve(provider models.Provider, count, limit int, shared, user string) (string, error) {
	if user != "" {
		return user, nil
	}
	if count < limit && shared != "" {
		return shared, nil
	}
	return "", &CredentialRequiredError{Provider: provider}
}
