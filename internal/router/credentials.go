package router

import (
	"context"

	"github.com/agentoven/successdesk/pkg/contracts"
)

type credentialKey struct{}

// WithCredentials attaches the credential source that pays for every model
// call made with the returned context.
func WithCredentials(ctx context.Context, src contracts.CredentialSource) context.Context {
	if src == nil {
		return ctx
	}
	return context.WithValue(ctx, credentialKey{}, src)
}

// CredentialsFrom returns the credential source attached to ctx.
func CredentialsFrom(ctx context.Context) (contracts.CredentialSource, bool) {
	src, ok := ctx.Value(credentialKey{}).(contracts.CredentialSource)
	return src, ok
}
