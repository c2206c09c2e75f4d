package middleware

import (
	"context"
)

type contextKey string

const (
	OperatorContextKey contextKey = "operator_context"
	requestIDKey       contextKey = "request_id"
	clientIPKey        contextKey = "client_ip"
)

// OperatorContext is the identity behind an operator JWT.
type OperatorContext struct {
	OperatorID string
	TokenID    string // jti
	Scopes     []string
	ExpiresAt  int64
}

func (o *OperatorContext) HasScope(scope string) bool {
	for _, s := range o.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func GetOperatorContext(ctx context.Context) (*OperatorContext, bool) {
	val, ok := ctx.Value(OperatorContextKey).(*OperatorContext)
	return val, ok
}

func WithOperatorContext(ctx context.Context, oc *OperatorContext) context.Context {
	return context.WithValue(ctx, OperatorContextKey, oc)
}

// RequestID returns the id assigned by RequestLogger, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ClientIP returns the address resolved by RealIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
