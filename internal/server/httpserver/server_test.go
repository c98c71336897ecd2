package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/authguard/internal/cache"
	"github.com/and161185/authguard/internal/clock"
	"github.com/and161185/authguard/internal/config"
	"github.com/and161185/authguard/internal/crypto"
	"github.com/and161185/authguard/internal/csrf"
	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/gate"
	"github.com/and161185/authguard/internal/limiter"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/token"
)

const pw = "s3cret-pass"

type harness struct {
	e     *echo.Echo
	tf    *fakeTwoFactor
	clock *clock.Fixed
}

type options struct {
	limiterCache cache.Cache
	csrfCache    cache.Cache
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	clk := clock.NewFixed(time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC))
	mem := cache.NewMemory(clk)
	if opts.limiterCache == nil {
		opts.limiterCache = mem
	}
	if opts.csrfCache == nil {
		opts.csrfCache = mem
	}

	salt := []byte("httpserver-salt!")
	users := &memUsers{users: []*model.User{{
		ID: uuid.Must(uuid.NewV4()), Username: "alice", SaltAuth: salt,
		PwdHash: crypto.HashPassword([]byte(pw), salt), Active: true,
	}}}
	signer, err := token.NewSigner([]byte(strings.Repeat("x", token.MinKeyLen)), "authguard")
	require.NoError(t, err)
	ledger := token.NewLedger(mem, time.Second)
	tf := &fakeTwoFactor{}
	mgr := token.NewManager(token.Deps{
		Users: users, Refresh: &memRefresh{recs: map[uuid.UUID]model.RefreshRecord{}},
		TwoFactor: tf, Signer: signer, Ledger: ledger, Clock: clk, Log: log,
	}, token.Config{AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour})

	cfg := config.Default()
	e := New(Deps{
		Gate:      gate.New(signer, ledger, clk, log),
		Limiter:   limiter.NewWindow(opts.limiterCache, log),
		CSRF:      csrf.New(opts.csrfCache, csrf.Config{TTL: time.Hour}, nil, log),
		Tokens:    mgr,
		TwoFactor: tf,
		Policies:  cfg,
		Log:       log,
	})
	return &harness{e: e, tf: tf, clock: clk}
}

type reqOpt func(*http.Request)

func bearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+tok) }
}

func withCSRF(tok string) reqOpt {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "XSRF-TOKEN", Value: tok})
		r.Header.Set("X-CSRF-Token", tok)
	}
}

type response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

func (h *harness) do(t *testing.T, method, path string, body any, opts ...reqOpt) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.RemoteAddr = "192.0.2.10:5555"
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	var env response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (h *harness) csrfToken(t *testing.T) string {
	t.Helper()
	rec, env := h.do(t, http.MethodGet, "/api/v1/auth/csrf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func (h *harness) login(t *testing.T, csrfTok string) tokensResponse {
	t.Helper()
	rec, env := h.do(t, http.MethodPost, "/api/v1/auth/login",
		loginRequest{Username: "alice", Password: pw}, withCSRF(csrfTok))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr tokensResponse
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	return tr
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	rec, env := h.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", env.Status)
	require.Equal(t, "", env.Code)
}

func TestLogin_CSRFHandshake(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	body := loginRequest{Username: "alice", Password: pw}

	rec, env := h.do(t, http.MethodPost, "/api/v1/auth/login", body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, string(errs.KindCSRFTokenRequired), env.Code)
	require.Equal(t, "null", string(env.Data))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "XSRF-TOKEN", cookies[0].Name)
	tok := cookies[0].Value

	rec, env = h.do(t, http.MethodPost, "/api/v1/auth/login", body, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "XSRF-TOKEN", Value: tok})
		r.Header.Set("X-CSRF-Token", "other")
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, string(errs.KindInvalidCSRFToken), env.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/auth/login", body, withCSRF(tok))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", env.Status)
}

func TestLogin_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	tok := h.csrfToken(t)

	rec, env := h.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "alice", Password: "bad"}, withCSRF(tok))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(errs.KindInvalidCredentials), env.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{}, withCSRF(tok))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(errs.KindBadRequest), env.Code)

	h.tf.enabled = true
	rec, env = h.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "alice", Password: pw}, withCSRF(tok))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(errs.Kind2FARequired), env.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "alice", Password: pw, Code: "123456"}, withCSRF(tok))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})

	rec, env := h.do(t, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(errs.KindMissingToken), env.Code)

	rec, env = h.do(t, http.MethodGet, "/api/v1/me", nil, bearer("not.a.jwt"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(errs.KindInvalidToken), env.Code)
}

func TestUnknownRoutes_SkipAdmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})

	rec, env := h.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(errs.KindNotFound), env.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(errs.KindNotFound), env.Code)

	rec, env = h.do(t, http.MethodGet, "/api/v1/auth/login", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, string(errs.KindMethodNotAllowed), env.Code)
}

func TestLogout_RevokesBothTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	csrfTok := h.csrfToken(t)
	tr := h.login(t, csrfTok)

	rec, env := h.do(t, http.MethodGet, "/api/v1/me", nil, bearer(tr.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(env.Data), `"username":"alice"`)

	rec, env = h.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(tr.AccessToken))
	require.Equal(t, http.StatusForbidden, rec.Code, "authenticated mutation without csrf cookie")
	require.Equal(t, string(errs.KindInvalidCSRFToken), env.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(tr.AccessToken), withCSRF(csrfTok))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = h.do(t, http.MethodGet, "/api/v1/me", nil, bearer(tr.AccessToken))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(errs.KindBlacklistedToken), env.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/auth/refresh", refreshRequest{RefreshToken: tr.RefreshToken}, withCSRF(csrfTok))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, []string{string(errs.KindInvalidRefreshToken), string(errs.KindRevokedRefreshToken)}, env.Code)
}

func TestRefresh_Rotates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	csrfTok := h.csrfToken(t)
	tr := h.login(t, csrfTok)

	rec, env := h.do(t, http.MethodPost, "/api/v1/auth/refresh", refreshRequest{RefreshToken: tr.RefreshToken}, withCSRF(csrfTok))
	require.Equal(t, http.StatusOK, rec.Code)
	var next tokensResponse
	require.NoError(t, json.Unmarshal(env.Data, &next))
	require.NotEqual(t, tr.RefreshToken, next.RefreshToken)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/auth/refresh", refreshRequest{RefreshToken: tr.RefreshToken}, withCSRF(csrfTok))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit_LoginPolicy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	csrfTok := h.csrfToken(t)
	body := loginRequest{Username: "alice", Password: "wrong"}

	for i := 0; i < 5; i++ {
		rec, _ := h.do(t, http.MethodPost, "/api/v1/auth/login", body, withCSRF(csrfTok))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}
	rec, env := h.do(t, http.MethodPost, "/api/v1/auth/login", body, withCSRF(csrfTok))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, string(errs.KindRateLimitExceeded), env.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))

	h.clock.Advance(61 * time.Second)
	rec, _ = h.do(t, http.MethodPost, "/api/v1/auth/login", body, withCSRF(h.csrfToken(t)))
	require.Equal(t, http.StatusUnauthorized, rec.Code, "new window")
}

func TestGET_NeverRejectedWhenCacheDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{limiterCache: downCache{}, csrfCache: downCache{}})

	rec, _ := h.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Mutations: the limiter fails open, CSRF fails closed.
	rec, env := h.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "alice", Password: pw},
		withCSRF("whatever"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, string(errs.KindInvalidCSRFToken), env.Code)
}

func TestTwoFactorRoutes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	csrfTok := h.csrfToken(t)
	tr := h.login(t, csrfTok)
	auth := []reqOpt{bearer(tr.AccessToken), withCSRF(csrfTok)}

	rec, env := h.do(t, http.MethodPost, "/api/v1/2fa/confirm", codeRequest{Code: "123456"}, auth...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(errs.Kind2FANotInitiated), env.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/2fa/setup", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(env.Data), "provisioning_uri")

	rec, env = h.do(t, http.MethodPost, "/api/v1/2fa/confirm", codeRequest{Code: "000000"}, auth...)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(errs.KindInvalid2FACode), env.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/2fa/confirm", codeRequest{Code: "123456"}, auth...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/2fa/setup", nil, auth...)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(errs.Kind2FAAlreadyEnabled), env.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/2fa/backup-codes", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(env.Data), "CCCC-DDDD")

	rec, _ = h.do(t, http.MethodPost, "/api/v1/2fa/disable", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = h.do(t, http.MethodPost, "/api/v1/2fa/disable", nil, auth...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(errs.Kind2FANotEnabled), env.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(errs.KindServiceUnavailable))
	require.Equal(t, http.StatusInternalServerError, StatusFor(errs.Kind("SOMETHING_NEW")))
	require.Equal(t, http.StatusTooManyRequests, StatusFor(errs.KindRateLimitExceeded))
}
