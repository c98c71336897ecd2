package errs

import "errors"

// Kind is a machine-readable error code surfaced to the outer layer.
type Kind string

// Error kinds returned by the auth core.
const (
	KindInvalidCredentials  Kind = "INVALID_CREDENTIALS"
	Kind2FARequired         Kind = "2FA_REQUIRED"
	KindInvalid2FACode      Kind = "INVALID_2FA_CODE"
	Kind2FANotInitiated     Kind = "2FA_NOT_INITIATED"
	Kind2FAAlreadyEnabled   Kind = "2FA_ALREADY_ENABLED"
	Kind2FANotEnabled       Kind = "2FA_NOT_ENABLED"
	KindInvalidRefreshToken Kind = "INVALID_REFRESH_TOKEN"
	KindRevokedRefreshToken Kind = "REVOKED_REFRESH_TOKEN"
	KindInvalidToken        Kind = "INVALID_TOKEN"
	KindMissingToken        Kind = "MISSING_TOKEN"
	KindBlacklistedToken    Kind = "BLACKLISTED_TOKEN"
	KindNoActiveSession     Kind = "NO_ACTIVE_SESSION"
	KindAlreadyLoggedOut    Kind = "ALREADY_LOGGED_OUT"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindCSRFTokenRequired   Kind = "CSRF_TOKEN_REQUIRED"
	KindInvalidCSRFToken    Kind = "INVALID_CSRF_TOKEN"

	// Transport-level kinds.
	KindBadRequest         Kind = "BAD_REQUEST"
	KindNotFound           Kind = "NOT_FOUND"
	KindMethodNotAllowed   Kind = "METHOD_NOT_ALLOWED"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// Error is a domain error carrying a Kind. Messages never include secrets.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New constructs a domain error.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Domain sentinels; compare with errors.Is.
var (
	ErrInvalidCredentials  = New(KindInvalidCredentials, "invalid credentials")
	Err2FARequired         = New(Kind2FARequired, "second factor required")
	ErrInvalid2FACode      = New(KindInvalid2FACode, "invalid second factor code")
	Err2FANotInitiated     = New(Kind2FANotInitiated, "two-factor setup not initiated")
	Err2FAAlreadyEnabled   = New(Kind2FAAlreadyEnabled, "two-factor already enabled")
	Err2FANotEnabled       = New(Kind2FANotEnabled, "two-factor not enabled")
	ErrInvalidRefreshToken = New(KindInvalidRefreshToken, "invalid refresh token")
	ErrRevokedRefreshToken = New(KindRevokedRefreshToken, "refresh token revoked")
	ErrInvalidToken        = New(KindInvalidToken, "invalid token")
	ErrMissingToken        = New(KindMissingToken, "missing bearer token")
	ErrBlacklistedToken    = New(KindBlacklistedToken, "token revoked")
	ErrNoActiveSession     = New(KindNoActiveSession, "no active session")
	ErrAlreadyLoggedOut    = New(KindAlreadyLoggedOut, "already logged out")
	ErrRateLimited         = New(KindRateLimitExceeded, "rate limit exceeded")
	ErrCSRFTokenRequired   = New(KindCSRFTokenRequired, "csrf token required")
	ErrInvalidCSRFToken    = New(KindInvalidCSRFToken, "invalid csrf token")
	ErrBadRequest          = New(KindBadRequest, "bad request")
	ErrUnavailable         = New(KindServiceUnavailable, "service temporarily unavailable")
)

// KindOf reports the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
