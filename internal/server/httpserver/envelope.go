package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/and161185/authguard/internal/errs"
)

// envelope is the body of every response.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func ok(c echo.Context, data any, msg string) error {
	return c.JSON(http.StatusOK, envelope{Status: "success", Data: data, Message: msg})
}

var kindStatus = map[errs.Kind]int{
	errs.KindInvalidCredentials:  http.StatusUnauthorized,
	errs.Kind2FARequired:         http.StatusUnauthorized,
	errs.KindInvalid2FACode:      http.StatusUnauthorized,
	errs.KindInvalidRefreshToken: http.StatusUnauthorized,
	errs.KindRevokedRefreshToken: http.StatusUnauthorized,
	errs.KindInvalidToken:        http.StatusUnauthorized,
	errs.KindMissingToken:        http.StatusUnauthorized,
	errs.KindBlacklistedToken:    http.StatusUnauthorized,
	errs.KindNoActiveSession:     http.StatusUnauthorized,
	errs.Kind2FANotInitiated:     http.StatusBadRequest,
	errs.Kind2FANotEnabled:       http.StatusBadRequest,
	errs.KindAlreadyLoggedOut:    http.StatusBadRequest,
	errs.KindBadRequest:          http.StatusBadRequest,
	errs.Kind2FAAlreadyEnabled:   http.StatusConflict,
	errs.KindRateLimitExceeded:   http.StatusTooManyRequests,
	errs.KindCSRFTokenRequired:   http.StatusForbidden,
	errs.KindInvalidCSRFToken:    http.StatusForbidden,
	errs.KindNotFound:            http.StatusNotFound,
	errs.KindMethodNotAllowed:    http.StatusMethodNotAllowed,
	errs.KindServiceUnavailable:  http.StatusServiceUnavailable,
	errs.KindInternal:            http.StatusInternalServerError,
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(k errs.Kind) int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// errorHandler renders every error returned by handlers or pipeline steps.
func errorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			err = fromHTTPError(he)
		}
		kind := errs.KindOf(err)
		msg := "internal error"
		var de *errs.Error
		if errors.As(err, &de) {
			msg = de.Message
		} else {
			log.Error("unhandled error",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Error(err),
			)
		}
		env := envelope{Status: "error", Data: nil, Message: msg, Code: string(kind)}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(StatusFor(kind))
		} else {
			err = c.JSON(StatusFor(kind), env)
		}
		if err != nil {
			log.Warn("write error response", zap.Error(err))
		}
	}
}

func fromHTTPError(he *echo.HTTPError) error {
	switch {
	case he.Code == http.StatusNotFound:
		return errs.New(errs.KindNotFound, "not found")
	case he.Code == http.StatusMethodNotAllowed:
		return errs.New(errs.KindMethodNotAllowed, "method not allowed")
	case he.Code >= 400 && he.Code < 500:
		return errs.ErrBadRequest
	default:
		return he
	}
}
