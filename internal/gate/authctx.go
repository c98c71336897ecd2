package gate

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authguard/internal/token"
)

type ctxKey string

const claimsKey ctxKey = "authguard.claims"

// WithClaims stores authenticated claims in context.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches claims from context.
func ClaimsFromCtx(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok && c != nil
}

// UserIDFromCtx fetches the authenticated user ID from context.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ClaimsFromCtx(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := c.UserID()
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
