package connectutil

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/pitabwire/frame/security"
	securityhttp "github.com/pitabwire/frame/security/interceptors/httptor"
)

// DefaultOptions returns the Connect handler options shared by every service.
func DefaultOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithInterceptors(NewLoggingInterceptor()),
	}
}

// DefaultClientOptions returns the Connect client options shared by every client.
func DefaultClientOptions() []connect.ClientOption {
	return []connect.ClientOption{
		connect.WithInterceptors(NewLoggingInterceptor()),
	}
}

// RequireAuth wraps handler with frame's bearer token authentication. A nil
// authenticator leaves handler open.
func RequireAuth(handler http.Handler, authenticator security.Authenticator) http.Handler {
	if authenticator == nil {
		return handler
	}
	return securityhttp.AuthenticationMiddleware(handler, authenticator)
}

type loggingInterceptor struct{}

// NewLoggingInterceptor creates an interceptor that logs the procedure,
// duration and Connect error code of each unary RPC.
func NewLoggingInterceptor() connect.Interceptor {
	return &loggingInterceptor{}
}

func (l *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		attrs := []any{
			slog.String("procedure", req.Spec().Procedure),
			slog.Duration("duration", time.Since(start)),
		}
		if req.Spec().IsClient {
			attrs = append(attrs, slog.String("side", "client"))
		} else if addr := req.Peer().Addr; addr != "" {
			attrs = append(attrs, slog.String("peer", addr))
		}

		if err != nil {
			attrs = append(attrs,
				slog.String("code", connect.CodeOf(err).String()),
				slog.String("error", err.Error()))
			level := slog.LevelWarn
			if connect.CodeOf(err) == connect.CodeInternal || connect.CodeOf(err) == connect.CodeUnknown {
				level = slog.LevelError
			}
			slog.Log(ctx, level, "rpc error", attrs...)
		} else {
			slog.DebugContext(ctx, "rpc ok", attrs...)
		}
		return resp, err
	}
}

// The call service has no streaming procedures.
func (l *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (l *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
