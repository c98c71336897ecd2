package grpcserver

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/gate"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary runs the Authentication Gate on every method not listed in public.
// Admitted calls carry the token claims in their context.
func AuthUnary(g *gate.Gate, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if public[info.FullMethod] {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, g)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// AuthStream is the streaming counterpart of AuthUnary.
func AuthStream(g *gate.Gate, public map[string]bool) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if public[info.FullMethod] {
			return next(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), g)
		if err != nil {
			return err
		}
		return next(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, g *gate.Gate) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			header = v[0]
		}
	}
	claims, err := g.Authenticate(ctx, header)
	if err != nil {
		return ctx, toStatus(err)
	}
	return gate.WithClaims(ctx, claims), nil
}

// toStatus maps an auth error to a gRPC status; the kind travels as the message.
func toStatus(err error) error {
	var de *errs.Error
	if !errors.As(err, &de) {
		return status.Error(codes.Internal, string(errs.KindInternal))
	}
	code := codes.Unauthenticated
	switch de.Kind {
	case errs.KindRateLimitExceeded:
		code = codes.ResourceExhausted
	case errs.KindServiceUnavailable:
		code = codes.Unavailable
	}
	return status.Error(code, string(de.Kind))
}
