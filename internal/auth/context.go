// ABOUTME: Operator identity carried through HTTP request contexts
// ABOUTME: Provides WithOperator/OperatorFromContext for the API middleware

package auth

import (
	"context"
)

// operatorContextKey is the key type for storing the operator in context.Context.
type operatorContextKey struct{}

// WithOperator returns a new context carrying the authenticated operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, operator)
}

// OperatorFromContext returns the operator name, or "" and false when the
// request was not authenticated.
func OperatorFromContext(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operatorContextKey{}).(string)
	if !ok || op == "" {
		return "", false
	}
	return op, true
}
