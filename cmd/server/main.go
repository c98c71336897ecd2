// Command authguard-server serves the authentication API over HTTP and the
// internal health listener over gRPC.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/authguard/internal/audit"
	"github.com/and161185/authguard/internal/cache"
	"github.com/and161185/authguard/internal/clock"
	"github.com/and161185/authguard/internal/config"
	"github.com/and161185/authguard/internal/crypto"
	"github.com/and161185/authguard/internal/csrf"
	"github.com/and161185/authguard/internal/gate"
	"github.com/and161185/authguard/internal/limiter"
	"github.com/and161185/authguard/internal/migrate"
	"github.com/and161185/authguard/internal/repository/postgres"
	grpcserver "github.com/and161185/authguard/internal/server/grpc"
	"github.com/and161185/authguard/internal/server/httpserver"
	"github.com/and161185/authguard/internal/token"
	"github.com/and161185/authguard/internal/totp"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main loads configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN, cfg.DBTimeout)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer db.Close()

	users := postgres.NewUserRepo(db)
	refresh := postgres.NewRefreshRepo(db)
	twoFactor := postgres.NewTwoFactorRepo(db)

	shared, closeCache := newCache(ctx, cfg, logger)
	defer closeCache()

	var pub audit.Publisher = audit.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		k := audit.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := k.Close(); err != nil {
				logger.Warn("close audit writer", zap.Error(err))
			}
		}()
		pub = k
	}

	box, err := crypto.NewSecretBox([]byte(cfg.SecretBoxKey))
	if err != nil {
		logger.Fatal("secret box", zap.Error(err))
	}
	signer, err := token.NewSigner([]byte(cfg.SigningKey), cfg.Issuer)
	if err != nil {
		logger.Fatal("token signer", zap.Error(err))
	}

	clk := clock.System{}
	ledger := token.NewLedger(shared, cfg.RevocationMargin)
	lockout := limiter.NewPG(db.Pool, limiter.LockoutPolicy{
		Window:   cfg.LockoutWindow,
		MaxFails: cfg.LockoutMaxFails,
		BlockFor: cfg.LockoutBlock,
	}, clk)

	engine := totp.New(totp.Deps{
		Repo:  twoFactor,
		Users: users,
		Box:   box,
		Clock: clk,
		Audit: pub,
		Log:   logger.Named("totp"),
	}, totp.Config{
		Issuer:          cfg.TOTPIssuer,
		BackupCodeCount: cfg.BackupCodes,
		BackupCodeCost:  cfg.BackupCodeCost,
	})

	tokens := token.NewManager(token.Deps{
		Users:     users,
		Refresh:   refresh,
		TwoFactor: engine,
		Signer:    signer,
		Ledger:    ledger,
		Lockout:   lockout,
		Clock:     clk,
		Audit:     pub,
		Log:       logger.Named("token"),
	}, token.Config{AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL})

	g := gate.New(signer, ledger, clk, logger.Named("gate"))

	e := httpserver.New(httpserver.Deps{
		Gate:    g,
		Limiter: limiter.NewWindow(shared, logger.Named("ratelimit")),
		CSRF: csrf.New(shared, csrf.Config{
			CookieName: cfg.CSRFCookie,
			HeaderName: cfg.CSRFHeader,
			TTL:        cfg.CSRFTTL,
			Secure:     cfg.CookieSecure,
		}, nil, logger.Named("csrf")),
		Tokens:    tokens,
		TwoFactor: engine,
		Policies:  cfg,
		Log:       logger.Named("http"),
	})

	errCh := make(chan error, 2)
	var (
		gs *grpc.Server
		hs *health.Server
	)
	if cfg.GRPCEnabled() {
		var creds credentials.TransportCredentials
		if cfg.TLSCert != "" {
			creds, err = credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				logger.Fatal("failed to load TLS cert/key", zap.Error(err))
			}
		}
		gs, hs = grpcserver.NewServer(logger.Named("grpc"), g, grpcserver.Options{Creds: creds, Reflection: cfg.Dev})

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", creds != nil))
			errCh <- gs.Serve(lis)
		}()
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		logger.Info("grpc disabled")
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	exit := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
	}

	if hs != nil {
		hs.Shutdown()
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if gs != nil {
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			gs.Stop()
		}
	}

	logger.Info("shutdown complete")
	if exit != 0 {
		_ = logger.Sync()
		os.Exit(exit)
	}
}

// newCache returns the shared cache. A Redis that does not answer at start is
// only logged: the limiter fails open and the CSRF guard and ledger fail closed.
func newCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Cache, func()) {
	if cfg.MemoryCache {
		log.Warn("using in-process cache; state is not shared between instances")
		return cache.NewMemory(clock.System{}), func() {}
	}
	r := cache.NewRedis(cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.CacheTimeout,
	})
	if err := r.Ping(ctx); err != nil {
		log.Warn("redis not reachable at start", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return r, func() { _ = r.Close() }
}
