// Package gate admits requests that carry a valid, unrevoked access token.
package gate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/authguard/internal/clock"
	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/token"
)

// Gate verifies bearer tokens against the signer and the revocation ledger.
type Gate struct {
	signer *token.Signer
	ledger *token.Ledger
	clock  clock.Clock
	log    *zap.Logger
}

// New constructs a Gate.
func New(signer *token.Signer, ledger *token.Ledger, clk clock.Clock, log *zap.Logger) *Gate {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{signer: signer, ledger: ledger, clock: clk, log: log}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// Authenticate checks the Authorization header value and returns the token
// claims. A ledger that cannot be read counts as a hit.
func (g *Gate) Authenticate(ctx context.Context, header string) (*token.Claims, error) {
	now := g.clock.Now()
	raw, ok := BearerToken(header)
	if !ok {
		return nil, errs.ErrMissingToken
	}
	revoked, err := g.ledger.Revoked(ctx, token.Fingerprint(raw))
	if err != nil {
		g.log.Warn("gate: ledger unavailable, rejecting", zap.Error(err))
		return nil, errs.ErrBlacklistedToken
	}
	if revoked {
		return nil, errs.ErrBlacklistedToken
	}
	return g.signer.Parse(raw, token.TypeAccess, now)
}
