// Package config loads server configuration. Layers, lowest first: built-in
// defaults, an optional TOML file, a .env file, AUTHGUARD_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "AUTHGUARD_"

// Route is the policy of one "METHOD /path" route.
type Route struct {
	Limit         int  `toml:"limit"`
	WindowSeconds int  `toml:"window_seconds"`
	Public        bool `toml:"public"`
}

// Window returns the policy window as a duration.
func (r Route) Window() time.Duration { return time.Duration(r.WindowSeconds) * time.Second }

// Config is the full server configuration.
type Config struct {
	HTTPAddr string `toml:"http_addr"`
	GRPCAddr string `toml:"grpc_addr"`
	TLSCert  string `toml:"tls_cert"`
	TLSKey   string `toml:"tls_key"`
	Dev      bool   `toml:"dev"`

	DSN       string        `toml:"dsn"`
	DBTimeout time.Duration `toml:"db_timeout"`

	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	CacheTimeout  time.Duration `toml:"cache_timeout"`
	// MemoryCache replaces Redis with a single-process cache (development only).
	MemoryCache bool `toml:"memory_cache"`

	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`

	SigningKey       string        `toml:"signing_key"`
	SecretBoxKey     string        `toml:"secretbox_key"`
	Issuer           string        `toml:"issuer"`
	AccessTTL        time.Duration `toml:"access_ttl"`
	RefreshTTL       time.Duration `toml:"refresh_ttl"`
	RevocationMargin time.Duration `toml:"revocation_margin"`

	TOTPIssuer     string `toml:"totp_issuer"`
	BackupCodes    int    `toml:"backup_codes"`
	BackupCodeCost int    `toml:"backup_code_cost"`

	CSRFCookie   string        `toml:"csrf_cookie"`
	CSRFHeader   string        `toml:"csrf_header"`
	CSRFTTL      time.Duration `toml:"csrf_ttl"`
	CookieSecure bool          `toml:"cookie_secure"`

	LockoutWindow   time.Duration `toml:"lockout_window"`
	LockoutMaxFails int           `toml:"lockout_max_fails"`
	LockoutBlock    time.Duration `toml:"lockout_block"`

	DefaultLimit         int              `toml:"default_limit"`
	DefaultWindowSeconds int              `toml:"default_window_seconds"`
	Routes               map[string]Route `toml:"routes"`
}

// Default returns the built-in configuration. Secrets and the DSN are empty.
func Default() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		GRPCAddr:             ":8443",
		DBTimeout:            2 * time.Second,
		RedisAddr:            "localhost:6379",
		CacheTimeout:         200 * time.Millisecond,
		KafkaTopic:           "authguard.audit",
		Issuer:               "authguard",
		AccessTTL:            15 * time.Minute,
		RefreshTTL:           7 * 24 * time.Hour,
		RevocationMargin:     5 * time.Second,
		TOTPIssuer:           "authguard",
		BackupCodes:          10,
		BackupCodeCost:       10,
		CSRFCookie:           "XSRF-TOKEN",
		CSRFHeader:           "X-CSRF-Token",
		CSRFTTL:              2 * time.Hour,
		CookieSecure:         true,
		LockoutWindow:        15 * time.Minute,
		LockoutMaxFails:      5,
		LockoutBlock:         15 * time.Minute,
		DefaultLimit:         100,
		DefaultWindowSeconds: 60,
		Routes:               DefaultRoutes(),
	}
}

// DefaultRoutes is the built-in route table.
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		"POST /api/v1/auth/login":   {Limit: 5, WindowSeconds: 60, Public: true},
		"POST /api/v1/auth/refresh": {Limit: 20, WindowSeconds: 60, Public: true},
		"GET /api/v1/auth/csrf":     {Public: true},
		"POST /api/v1/2fa/confirm":  {Limit: 5, WindowSeconds: 60},
		"GET /health/live":          {Public: true},
	}
}

// Load builds the configuration from args (without the program name) and the
// process environment.
func Load(args []string) (*Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	envFile := ".env"
	if v, ok := lookup(EnvPrefix + "ENV_FILE"); ok {
		envFile = v
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", envFile, err)
	}
	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	path, _ := get(EnvPrefix + "CONFIG")
	if p := flagValue(args, "config"); p != "" {
		path = p
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(get); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("authguard", flag.ContinueOnError)
	cfg.bindFlags(fs)
	fs.String("config", path, "TOML config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagValue finds -name/--name in args without defining the full flag set.
func flagValue(args []string, name string) string {
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v
		}
	}
	return ""
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC listen address (empty disables)")
	fs.StringVar(&c.TLSCert, "tls-cert", c.TLSCert, "gRPC TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", c.TLSKey, "gRPC TLS private key (PEM)")
	fs.BoolVar(&c.Dev, "dev", c.Dev, "development mode: console logs, gRPC reflection")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "PostgreSQL DSN")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address")
	fs.BoolVar(&c.MemoryCache, "memory-cache", c.MemoryCache, "use the in-process cache instead of Redis")
	fs.StringVar(&c.SigningKey, "jwt-key", c.SigningKey, "HS256 signing key (required)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "access token TTL")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "refresh token TTL")
}

type envBinding struct {
	name string
	set  func(string) error
}

func (c *Config) applyEnv(get func(string) (string, bool)) error {
	str := func(p *string) func(string) error { return func(v string) error { *p = v; return nil } }
	dur := func(p *time.Duration) func(string) error {
		return func(v string) (err error) { *p, err = time.ParseDuration(v); return err }
	}
	num := func(p *int) func(string) error {
		return func(v string) (err error) { *p, err = strconv.Atoi(v); return err }
	}
	boolean := func(p *bool) func(string) error {
		return func(v string) (err error) { *p, err = strconv.ParseBool(v); return err }
	}
	list := func(p *[]string) func(string) error {
		return func(v string) error {
			*p = nil
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					*p = append(*p, s)
				}
			}
			return nil
		}
	}

	bindings := []envBinding{
		{"HTTP_ADDR", str(&c.HTTPAddr)},
		{"GRPC_ADDR", str(&c.GRPCAddr)},
		{"TLS_CERT", str(&c.TLSCert)},
		{"TLS_KEY", str(&c.TLSKey)},
		{"DEV", boolean(&c.Dev)},
		{"DSN", str(&c.DSN)},
		{"DB_TIMEOUT", dur(&c.DBTimeout)},
		{"REDIS_ADDR", str(&c.RedisAddr)},
		{"REDIS_PASSWORD", str(&c.RedisPassword)},
		{"REDIS_DB", num(&c.RedisDB)},
		{"CACHE_TIMEOUT", dur(&c.CacheTimeout)},
		{"MEMORY_CACHE", boolean(&c.MemoryCache)},
		{"KAFKA_BROKERS", list(&c.KafkaBrokers)},
		{"KAFKA_TOPIC", str(&c.KafkaTopic)},
		{"JWT_KEY", str(&c.SigningKey)},
		{"SECRETBOX_KEY", str(&c.SecretBoxKey)},
		{"ISSUER", str(&c.Issuer)},
		{"ACCESS_TTL", dur(&c.AccessTTL)},
		{"REFRESH_TTL", dur(&c.RefreshTTL)},
		{"REVOCATION_MARGIN", dur(&c.RevocationMargin)},
		{"TOTP_ISSUER", str(&c.TOTPIssuer)},
		{"BACKUP_CODES", num(&c.BackupCodes)},
		{"BACKUP_CODE_COST", num(&c.BackupCodeCost)},
		{"CSRF_COOKIE", str(&c.CSRFCookie)},
		{"CSRF_HEADER", str(&c.CSRFHeader)},
		{"CSRF_TTL", dur(&c.CSRFTTL)},
		{"COOKIE_SECURE", boolean(&c.CookieSecure)},
		{"LOCKOUT_WINDOW", dur(&c.LockoutWindow)},
		{"LOCKOUT_MAX_FAILS", num(&c.LockoutMaxFails)},
		{"LOCKOUT_BLOCK", dur(&c.LockoutBlock)},
		{"DEFAULT_LIMIT", num(&c.DefaultLimit)},
		{"DEFAULT_WINDOW_SECONDS", num(&c.DefaultWindowSeconds)},
	}
	for _, b := range bindings {
		v, ok := get(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

// GRPCEnabled reports whether the gRPC health listener should be started.
func (c *Config) GRPCEnabled() bool { return c.GRPCAddr != "" }

// Validate checks required settings.
func (c *Config) Validate() error {
	var errsList []error
	if len(c.SigningKey) < 32 {
		errsList = append(errsList, errors.New("signing key must be at least 32 bytes"))
	}
	if len(c.SecretBoxKey) < 32 {
		errsList = append(errsList, errors.New("secretbox key must be at least 32 bytes"))
	}
	if c.DSN == "" {
		errsList = append(errsList, errors.New("dsn is required"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errsList = append(errsList, errors.New("token TTLs must be positive"))
	}
	if c.AccessTTL >= c.RefreshTTL {
		errsList = append(errsList, errors.New("access TTL must be shorter than refresh TTL"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errsList = append(errsList, errors.New("tls cert and key must be set together"))
	}
	for key, r := range c.Routes {
		if _, _, ok := strings.Cut(key, " "); !ok {
			errsList = append(errsList, fmt.Errorf("route %q: want \"METHOD /path\"", key))
		}
		if r.Limit < 0 || r.WindowSeconds < 0 || (r.Limit > 0) != (r.WindowSeconds > 0) {
			errsList = append(errsList, fmt.Errorf("route %q: limit and window_seconds must both be positive or both zero", key))
		}
	}
	if err := errors.Join(errsList...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Policy returns the explicit policy for "METHOD /path", if any.
func (c *Config) Policy(method, path string) (Route, bool) {
	r, ok := c.Routes[method+" "+path]
	return r, ok
}

// DefaultPolicy is applied to mutating routes without an explicit limit.
func (c *Config) DefaultPolicy() Route {
	return Route{Limit: c.DefaultLimit, WindowSeconds: c.DefaultWindowSeconds}
}
