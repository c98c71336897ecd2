// Package httpserver exposes the auth core over HTTP with echo. Every request
// passes the Authentication Gate, Rate Limiter and CSRF Guard, in that order.
package httpserver

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/and161185/authguard/internal/csrf"
	"github.com/and161185/authguard/internal/gate"
	"github.com/and161185/authguard/internal/limiter"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/token"
)

// TokenService is the token lifecycle used by the handlers.
type TokenService interface {
	Login(ctx context.Context, req token.LoginRequest) (*model.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Tokens, error)
	Logout(ctx context.Context, accessToken string) error
}

// TwoFactorService is the TOTP engine used by the handlers.
type TwoFactorService interface {
	Setup(ctx context.Context, userID uuid.UUID) (*model.TwoFactorEnrollment, error)
	Confirm(ctx context.Context, userID uuid.UUID, code string) error
	Enabled(ctx context.Context, userID uuid.UUID) (bool, error)
	Disable(ctx context.Context, userID uuid.UUID) error
	RegenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Deps groups server collaborators.
type Deps struct {
	Gate      *gate.Gate
	Limiter   *limiter.Window
	CSRF      *csrf.Guard
	Tokens    TokenService
	TwoFactor TwoFactorService
	Policies  Policies
	Log       *zap.Logger
}

// Server holds handler dependencies.
type Server struct {
	d      Deps
	routes map[string]struct{}
}

// New builds the echo instance with all routes registered.
func New(d Deps) *echo.Echo {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	s := &Server{d: d}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(d.Log)
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		accessLog(d.Log),
		Pipeline(s.unrouted, s.authenticate, s.rateLimit, s.checkCSRF),
	)
	s.register(e)
	s.routes = make(map[string]struct{}, len(e.Routes()))
	for _, r := range e.Routes() {
		s.routes[r.Method+" "+r.Path] = struct{}{}
	}
	return e
}

// unrouted reports requests that match no registered route. They get echo's
// 404 or 405 without touching the token or the limiter.
func (s *Server) unrouted(c echo.Context) bool {
	_, ok := s.routes[c.Request().Method+" "+c.Path()]
	return !ok
}

func (s *Server) register(e *echo.Echo) {
	e.GET("/health/live", s.live)

	api := e.Group("/api/v1")
	api.POST("/auth/login", s.login)
	api.POST("/auth/refresh", s.refresh)
	api.POST("/auth/logout", s.logout)
	api.GET("/auth/csrf", s.issueCSRF)
	api.GET("/me", s.me)

	tf := api.Group("/2fa")
	tf.POST("/setup", s.setup2FA)
	tf.POST("/confirm", s.confirm2FA)
	tf.POST("/disable", s.disable2FA)
	tf.POST("/backup-codes", s.regenerateCodes)
}

func accessLog(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			// metadata only, never bodies or headers
			log.Info("http",
				zap.String("method", v.Method),
				zap.String("route", v.RoutePath),
				zap.Int("status", v.Status),
				zap.Duration("dur", v.Latency),
				zap.String("peer", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	})
}
