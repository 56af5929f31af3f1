package grpcsvc

import (
	"context"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

const authorizationHeader = "authorization"

// TokenVerifier проверяет bearer-токен и возвращает вызывающего.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (domain.Caller, error)
}

// AuthUnaryInterceptor кладёт проверенного вызывающего в контекст.
// Методы из skip (полные имена) вызываются без токена.
func AuthUnaryInterceptor(tokens TokenVerifier, logger *log.Entry, skip ...string) grpc.UnaryServerInterceptor {
	public := make(map[string]struct{}, len(skip))
	for _, method := range skip {
		public[method] = struct{}{}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := public[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		raw, ok := bearerFromMetadata(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		caller, err := tokens.Verify(ctx, raw)
		if err != nil {
			if logger != nil {
				logger.WithError(err).WithField("method", info.FullMethod).Debug("token rejected")
			}
			return nil, status.Error(codes.Unauthenticated, "invalid or revoked token")
		}
		return handler(domain.WithCaller(ctx, caller), req)
	}
}

func bearerFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(authorizationHeader)
	if len(values) == 0 {
		return "", false
	}
	return auth.BearerToken(values[0])
}
