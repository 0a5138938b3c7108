package middleware

import (
	"context"

	"github.com/agentoven/successdesk/pkg/contracts"
)

const operatorKey contextKey = "operator"

// SetOperator stores the authenticated operator in the context.
// Called by the operator API-key middleware after successful authentication.
func SetOperator(ctx context.Context, op *contracts.Operator) context.Context {
	if op == nil {
		return ctx
	}
	return context.WithValue(ctx, operatorKey, op)
}

// GetOperator retrieves the authenticated operator from the context.
// Returns nil for ordinary browser requests.
func GetOperator(ctx context.Context) *contracts.Operator {
	if v, ok := ctx.Value(operatorKey).(*contracts.Operator); ok {
		return v
	}
	return nil
}
