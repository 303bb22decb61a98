package jwtauth

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor authenticates unary calls carrying a bearer launch token
// in the "authorization" metadata key.
func UnaryServerInterceptor(v *Verifier) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, string(ErrMissingToken))
		}

		requestID := uuid.New().String()
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			requestID = ids[0]
		}
		ctx = WithRequestID(ctx, requestID)

		token, err := extractTokenFromMetadata(md)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, ErrorCodeOf(err))
		}

		claims, err := v.Verify(ctx, token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, ErrorCodeOf(err))
		}

		return handler(WithClaims(ctx, claims), req)
	}
}
