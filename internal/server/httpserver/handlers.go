package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/gate"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/token"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type tokensResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func toTokens(t *model.Tokens) tokensResponse {
	return tokensResponse{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, ExpiresAt: t.ExpiresAt}
}

func (s *Server) live(c echo.Context) error {
	return ok(c, nil, "ok")
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil || req.Username == "" || req.Password == "" {
		return errs.ErrBadRequest
	}
	t, err := s.d.Tokens.Login(c.Request().Context(), token.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		Code:     req.Code,
		RemoteIP: c.RealIP(),
	})
	if err != nil {
		return err
	}
	return ok(c, toTokens(t), "logged in")
}

func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return errs.ErrBadRequest
	}
	t, err := s.d.Tokens.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return ok(c, toTokens(t), "token refreshed")
}

func (s *Server) logout(c echo.Context) error {
	raw, found := gate.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !found {
		return errs.ErrMissingToken
	}
	if err := s.d.Tokens.Logout(c.Request().Context(), raw); err != nil {
		return err
	}
	return ok(c, nil, "logged out")
}

func (s *Server) issueCSRF(c echo.Context) error {
	tok, err := s.d.CSRF.Issue(c.Request().Context())
	if err != nil {
		s.d.Log.Warn("issue csrf token", zap.Error(err))
		return errs.ErrUnavailable
	}
	c.SetCookie(s.d.CSRF.Cookie(tok))
	return ok(c, map[string]string{"token": tok}, "")
}

func (s *Server) me(c echo.Context) error {
	claims, found := gate.ClaimsFromCtx(c.Request().Context())
	if !found {
		return errs.ErrMissingToken
	}
	uid, _ := claims.UserID()
	on, err := s.d.TwoFactor.Enabled(c.Request().Context(), uid)
	if err != nil {
		s.d.Log.Warn("load 2fa state", zap.Error(err))
	}
	return ok(c, map[string]any{
		"user_id":            uid.String(),
		"username":           claims.Username,
		"two_factor_enabled": on,
	}, "")
}

func (s *Server) setup2FA(c echo.Context) error {
	uid, _ := gate.UserIDFromCtx(c.Request().Context())
	en, err := s.d.TwoFactor.Setup(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{
		"secret":           en.Secret,
		"provisioning_uri": en.ProvisioningURI,
		"backup_codes":     en.BackupCodes,
	}, "scan the secret and confirm with a code")
}

func (s *Server) confirm2FA(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return errs.ErrBadRequest
	}
	uid, _ := gate.UserIDFromCtx(c.Request().Context())
	if err := s.d.TwoFactor.Confirm(c.Request().Context(), uid, req.Code); err != nil {
		return err
	}
	return ok(c, map[string]bool{"enabled": true}, "two-factor enabled")
}

func (s *Server) disable2FA(c echo.Context) error {
	uid, _ := gate.UserIDFromCtx(c.Request().Context())
	if err := s.d.TwoFactor.Disable(c.Request().Context(), uid); err != nil {
		return err
	}
	return ok(c, map[string]bool{"enabled": false}, "two-factor disabled")
}

func (s *Server) regenerateCodes(c echo.Context) error {
	uid, _ := gate.UserIDFromCtx(c.Request().Context())
	codes, err := s.d.TwoFactor.RegenerateBackupCodes(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"backup_codes": codes}, "backup codes regenerated")
}
