// Package csrf implements double-submit CSRF protection backed by the shared
// cache. Any doubt about a token is a rejection.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/authguard/internal/cache"
	"github.com/and161185/authguard/internal/errs"
)

const (
	tokenBytes = 32
	keyPrefix  = "csrf:"
)

// Config holds cookie/header names and token validity.
type Config struct {
	CookieName string
	HeaderName string
	TTL        time.Duration
	Secure     bool
}

// Request is the part of an inbound request the guard inspects.
type Request struct {
	Method        string
	Authenticated bool
	Cookie        string
	Header        string
}

// Guard issues and verifies CSRF tokens.
type Guard struct {
	cache cache.Cache
	cfg   Config
	rand  io.Reader
	log   *zap.Logger
}

// New constructs a Guard. rnd defaults to crypto/rand.
func New(c cache.Cache, cfg Config, rnd io.Reader, log *zap.Logger) *Guard {
	if rnd == nil {
		rnd = rand.Reader
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "XSRF-TOKEN"
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-CSRF-Token"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &Guard{cache: c, cfg: cfg, rand: rnd, log: log}
}

// CookieName returns the configured cookie name.
func (g *Guard) CookieName() string { return g.cfg.CookieName }

// HeaderName returns the configured header name.
func (g *Guard) HeaderName() string { return g.cfg.HeaderName }

// Safe reports whether method is read-only and therefore never checked.
func Safe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// Issue mints a token and records it in the cache for the configured TTL.
func (g *Guard) Issue(ctx context.Context) (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(b)
	if err := g.cache.Set(ctx, keyPrefix+tok, tok, g.cfg.TTL); err != nil {
		return "", err
	}
	return tok, nil
}

// Cookie returns the cookie carrying tok. It is readable by scripts so the
// client can echo it in the header.
func (g *Guard) Cookie(tok string) *http.Cookie {
	return &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(g.cfg.TTL / time.Second),
		Secure:   g.cfg.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	}
}

// Check admits or rejects r. When a fresh token was minted it is returned
// together with errs.ErrCSRFTokenRequired and the caller must set its cookie.
func (g *Guard) Check(ctx context.Context, r Request) (string, error) {
	if Safe(r.Method) {
		return "", nil
	}
	if !r.Authenticated && r.Cookie == "" {
		tok, err := g.Issue(ctx)
		if err != nil {
			g.log.Warn("csrf: issue token failed", zap.Error(err))
			return "", errs.ErrInvalidCSRFToken
		}
		return tok, errs.ErrCSRFTokenRequired
	}
	if r.Cookie == "" || r.Header == "" ||
		subtle.ConstantTimeCompare([]byte(r.Cookie), []byte(r.Header)) != 1 {
		return "", errs.ErrInvalidCSRFToken
	}
	v, ok, err := g.cache.Get(ctx, keyPrefix+r.Cookie)
	if err != nil {
		g.log.Warn("csrf: cache lookup failed", zap.Error(err))
		return "", errs.ErrInvalidCSRFToken
	}
	if !ok || subtle.ConstantTimeCompare([]byte(v), []byte(r.Cookie)) != 1 {
		return "", errs.ErrInvalidCSRFToken
	}
	return "", nil
}
