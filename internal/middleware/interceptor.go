package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

// SessionSource turns a bearer token into a live session.
type SessionSource interface {
	CurrentSession(ctx context.Context, token string) (*auth.Session, error)
}

type AuthContextInterceptor struct {
	sessions SessionSource
	logger   logger.ZapLogger
}

func NewAuthContextInterceptor(sessions SessionSource, logger logger.ZapLogger) *AuthContextInterceptor {
	return &AuthContextInterceptor{sessions: sessions, logger: logger}
}

// Unary attaches the caller's session to the context. Calls without an
// authorization header pass through unauthenticated; handlers decide.
func (i *AuthContextInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		values := md.Get("authorization")
		if len(values) == 0 || values[0] == "" {
			return handler(ctx, req)
		}

		session, err := i.sessions.CurrentSession(ctx, values[0])
		if err != nil {
			i.logger.Debug("Rejected session", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, apperror.GRPCStatus(err)
		}
		return handler(auth.WithSession(ctx, session), req)
	}
}

// UnaryLogger logs every call with its duration and resulting code.
func UnaryLogger(log logger.ZapLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
			zap.String("code", status.Code(err).String()),
		}
		if err != nil {
			log.Warn("gRPC call failed", append(fields, zap.Error(err))...)
			return resp, err
		}
		log.Info("gRPC call", fields...)
		return resp, nil
	}
}
