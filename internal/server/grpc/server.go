// Package grpcserver builds the internal gRPC listener: health checks and, in
// development, reflection, behind the Authentication Gate.
package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"

	"github.com/and161185/authguard/internal/gate"
)

// PublicMethods are reachable without a bearer token.
var PublicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// Options configures NewServer.
type Options struct {
	// Creds enables TLS when non-nil.
	Creds credentials.TransportCredentials
	// Reflection registers the reflection service (development only).
	Reflection bool
}

// NewServer returns a gRPC server with the health service registered and the
// health handle for status updates.
func NewServer(log *zap.Logger, g *gate.Gate, opts Options) (*grpc.Server, *health.Server) {
	if log == nil {
		log = zap.NewNop()
	}
	var so []grpc.ServerOption
	if opts.Creds != nil {
		so = append(so, grpc.Creds(opts.Creds))
	}
	public := make(map[string]bool, len(PublicMethods)+2)
	for m := range PublicMethods {
		public[m] = true
	}
	if opts.Reflection {
		public[reflectionpb.ServerReflection_ServerReflectionInfo_FullMethodName] = true
		public["/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo"] = true
	}
	so = append(so,
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
			AuthUnary(g, public),
		),
		grpc.ChainStreamInterceptor(AuthStream(g, public)),
	)
	s := grpc.NewServer(so...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	return s, hs
}

