package httpserver

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/and161185/authguard/internal/config"
	"github.com/and161185/authguard/internal/csrf"
	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/gate"
)

// Step is one admission check. A non-nil error rejects the request.
type Step func(c echo.Context) error

// Pipeline runs steps in order before the handler and stops at the first rejection.
// Requests for which skip reports true go straight to the handler.
func Pipeline(skip middleware.Skipper, steps ...Step) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}
			for _, step := range steps {
				if err := step(c); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}

// Policies resolves the per-route policy table.
type Policies interface {
	Policy(method, path string) (config.Route, bool)
	DefaultPolicy() config.Route
}

func (s *Server) public(c echo.Context) bool {
	p, ok := s.d.Policies.Policy(c.Request().Method, c.Path())
	return ok && p.Public
}

// authenticate runs the Authentication Gate on non-public routes.
func (s *Server) authenticate(c echo.Context) error {
	if s.public(c) {
		return nil
	}
	req := c.Request()
	claims, err := s.d.Gate.Authenticate(req.Context(), req.Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return err
	}
	c.SetRequest(req.WithContext(gate.WithClaims(req.Context(), claims)))
	return nil
}

// rateLimit applies the route's explicit policy, or the default policy to
// mutating requests on routes without one.
func (s *Server) rateLimit(c echo.Context) error {
	req := c.Request()
	p, ok := s.d.Policies.Policy(req.Method, c.Path())
	if !ok || p.Limit <= 0 {
		if csrf.Safe(req.Method) {
			return nil
		}
		p = s.d.Policies.DefaultPolicy()
	}
	key := req.Method + " " + c.Path() + "|" + identity(c)
	if !s.d.Limiter.Allow(req.Context(), key, p.Limit, p.Window()) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(p.WindowSeconds))
		return errs.ErrRateLimited
	}
	return nil
}

// identity prefers the authenticated user over the client address.
func identity(c echo.Context) string {
	if id, ok := gate.UserIDFromCtx(c.Request().Context()); ok {
		return "user:" + id.String()
	}
	return "ip:" + c.RealIP()
}

// checkCSRF runs the double-submit check on mutating requests.
func (s *Server) checkCSRF(c echo.Context) error {
	req := c.Request()
	_, authed := gate.ClaimsFromCtx(req.Context())
	r := csrf.Request{
		Method:        req.Method,
		Authenticated: authed,
		Header:        req.Header.Get(s.d.CSRF.HeaderName()),
	}
	if ck, err := c.Cookie(s.d.CSRF.CookieName()); err == nil {
		r.Cookie = ck.Value
	}
	tok, err := s.d.CSRF.Check(req.Context(), r)
	if tok != "" {
		c.SetCookie(s.d.CSRF.Cookie(tok))
	}
	return err
}
