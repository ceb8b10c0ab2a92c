package log

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

// healthPrefix marks the standard health service; its calls arrive every few
// seconds from orchestrators and are logged at debug level.
const healthPrefix = "/grpc.health.v1.Health/"

// UnaryServerInterceptor injects a request-scoped logger into the context and
// logs each completed unary call.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		child := callLogger(ctx, logger, info.FullMethod)
		resp, err := handler(WithLogger(ctx, child), req)

		callEvent(child, info.FullMethod, err).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Msg("unary call completed")

		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor; it is what Health/Watch goes through.
func StreamServerInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		ctx := ss.Context()
		child := callLogger(ctx, logger, info.FullMethod)

		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: WithLogger(ctx, child)})

		callEvent(child, info.FullMethod, err).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Msg("stream call completed")

		return err
	}
}

func callLogger(ctx context.Context, logger zerolog.Logger, method string) zerolog.Logger {
	return logger.With().
		Str(FieldRequestID, requestIDFromMD(ctx)).
		Str(FieldGRPCMethod, method).
		Logger()
}

func callEvent(l zerolog.Logger, method string, err error) *zerolog.Event {
	code := status.Code(err)
	var evt *zerolog.Event
	switch {
	case code != codes.OK && code != codes.Canceled:
		evt = l.Warn()
	case strings.HasPrefix(method, healthPrefix):
		evt = l.Debug()
	default:
		evt = l.Info()
	}
	return evt.Str(FieldGRPCCode, code.String()).Err(err)
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func requestIDFromMD(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKeyRequestID); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.New().String()
}
