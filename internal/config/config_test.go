package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	key32 = strings.Repeat("a", 32)
	box32 = strings.Repeat("b", 32)
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsPlusRequiredFromEnv(t *testing.T) {
	t.Parallel()
	cfg, err := load(nil, envMap(map[string]string{
		"AUTHGUARD_ENV_FILE":      filepath.Join(t.TempDir(), "missing.env"),
		"AUTHGUARD_JWT_KEY":       key32,
		"AUTHGUARD_SECRETBOX_KEY": box32,
		"AUTHGUARD_DSN":           "postgres://x",
		"AUTHGUARD_KAFKA_BROKERS": "k1:9092, k2:9092,",
	}))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	require.Equal(t, 10, cfg.BackupCodes)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)

	r, ok := cfg.Policy("POST", "/api/v1/auth/login")
	require.True(t, ok)
	require.Equal(t, Route{Limit: 5, WindowSeconds: 60, Public: true}, r)
	require.Equal(t, time.Minute, r.Window())
	_, ok = cfg.Policy("POST", "/api/v1/auth/logout")
	require.False(t, ok)
	require.Equal(t, Route{Limit: 100, WindowSeconds: 60}, cfg.DefaultPolicy())
}

func TestLoad_LayerPrecedence(t *testing.T) {
	t.Parallel()
	file := writeFile(t, "authguard.toml", `
http_addr = ":9000"
grpc_addr = ":9001"
dsn = "postgres://file"
signing_key = "`+key32+`"
secretbox_key = "`+box32+`"
access_ttl = "5m"

[routes."POST /api/v1/auth/login"]
limit = 3
window_seconds = 30
public = true

[routes."POST /api/v1/items"]
limit = 10
window_seconds = 60
`)
	dotenv := writeFile(t, ".env", "AUTHGUARD_GRPC_ADDR=:7001\nAUTHGUARD_HTTP_ADDR=:7000\n")

	cfg, err := load([]string{"-config", file, "-http-addr", ":6000"}, envMap(map[string]string{
		"AUTHGUARD_ENV_FILE":  dotenv,
		"AUTHGUARD_GRPC_ADDR": ":8001",
	}))
	require.NoError(t, err)

	require.Equal(t, ":6000", cfg.HTTPAddr, "flag beats env and file")
	require.Equal(t, ":8001", cfg.GRPCAddr, "process env beats .env")
	require.Equal(t, "postgres://file", cfg.DSN)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)

	login, _ := cfg.Policy("POST", "/api/v1/auth/login")
	require.Equal(t, 3, login.Limit)
	items, ok := cfg.Policy("POST", "/api/v1/items")
	require.True(t, ok)
	require.Equal(t, 10, items.Limit)
	_, ok = cfg.Policy("GET", "/health/live")
	require.True(t, ok, "defaults survive a partial route table")
}

func TestLoad_ConfigFromEqualsFlag(t *testing.T) {
	t.Parallel()
	file := writeFile(t, "c.toml", `dsn = "postgres://eq"
signing_key = "`+key32+`"
secretbox_key = "`+box32+`"
`)
	cfg, err := load([]string{"--config=" + file}, envMap(map[string]string{
		"AUTHGUARD_ENV_FILE": filepath.Join(t.TempDir(), "none"),
	}))
	require.NoError(t, err)
	require.Equal(t, "postgres://eq", cfg.DSN)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	noEnv := filepath.Join(t.TempDir(), "none")

	_, err := load(nil, envMap(map[string]string{"AUTHGUARD_ENV_FILE": noEnv}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "signing key")
	require.Contains(t, err.Error(), "dsn is required")

	_, err = load(nil, envMap(map[string]string{
		"AUTHGUARD_ENV_FILE":   noEnv,
		"AUTHGUARD_ACCESS_TTL": "soon",
	}))
	require.ErrorContains(t, err, "AUTHGUARD_ACCESS_TTL")

	bad := writeFile(t, "bad.toml", "[routes.\"nospace\"]\nlimit = 1\n")
	_, err = load([]string{"-config", bad}, envMap(map[string]string{
		"AUTHGUARD_ENV_FILE":      noEnv,
		"AUTHGUARD_JWT_KEY":       key32,
		"AUTHGUARD_SECRETBOX_KEY": box32,
		"AUTHGUARD_DSN":           "postgres://x",
	}))
	require.ErrorContains(t, err, `route "nospace"`)

	_, err = load([]string{"-config", filepath.Join(t.TempDir(), "absent.toml")}, envMap(map[string]string{"AUTHGUARD_ENV_FILE": noEnv}))
	require.Error(t, err)
}

func TestLoad_EmptyGRPCAddrDisablesListener(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"AUTHGUARD_ENV_FILE":      filepath.Join(t.TempDir(), "none"),
		"AUTHGUARD_JWT_KEY":       key32,
		"AUTHGUARD_SECRETBOX_KEY": box32,
		"AUTHGUARD_DSN":           "postgres://x",
	}
	cfg, err := load(nil, envMap(env))
	require.NoError(t, err)
	require.True(t, cfg.GRPCEnabled())

	cfg, err = load([]string{"-grpc-addr="}, envMap(env))
	require.NoError(t, err)
	require.Empty(t, cfg.GRPCAddr)
	require.False(t, cfg.GRPCEnabled())
}
