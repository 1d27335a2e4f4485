package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/LerianStudio/lib-guard/guard/fail"
	"github.com/LerianStudio/lib-guard/guard/log"
	"github.com/LerianStudio/lib-guard/guard/runtime"
)

type recoveryInterceptor struct {
	logger    log.Logger
	component string
}

// RecoveryOption configures the recovery interceptors.
type RecoveryOption func(i *recoveryInterceptor)

// WithRecoveryLogger is a functional option setting the logger used for
// rpc-abort log lines and foreign panic reports.
func WithRecoveryLogger(logger log.Logger) RecoveryOption {
	return func(i *recoveryInterceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithRecoveryComponent is a functional option setting the component label
// used on panic metrics. Defaults to "grpc".
func WithRecoveryComponent(component string) RecoveryOption {
	return func(i *recoveryInterceptor) {
		if component != "" {
			i.component = component
		}
	}
}

// buildRecoveryOpts creates a recoveryInterceptor with options applied.
func buildRecoveryOpts(opts ...RecoveryOption) *recoveryInterceptor {
	inter := &recoveryInterceptor{
		logger:    &log.NopLogger{},
		component: "grpc",
	}

	for _, opt := range opts {
		opt(inter)
	}

	return inter
}

// UnaryViolationRecovery returns a unary server interceptor that converts
// panics raised in handlers into status errors.
//
// A contract violation was already logged, counted, and attached to the
// active span at the raise site; the interceptor returns codes.Internal
// carrying the violation ID, with the violation message included outside
// production mode. Any other panic is routed through guard/runtime (log,
// panic metric, error reporter) and answered with a generic codes.Internal.
func UnaryViolationRecovery(opts ...RecoveryOption) grpc.UnaryServerInterceptor {
	inter := buildRecoveryOpts(opts...)

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				resp = nil
				err = inter.statusFromPanic(ctx, recovered, info.FullMethod)
			}
		}()

		return handler(ctx, req)
	}
}

// StreamViolationRecovery is UnaryViolationRecovery for streaming handlers.
func StreamViolationRecovery(opts ...RecoveryOption) grpc.StreamServerInterceptor {
	inter := buildRecoveryOpts(opts...)

	return func(
		srv any,
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = inter.statusFromPanic(stream.Context(), recovered, info.FullMethod)
			}
		}()

		return handler(srv, stream)
	}
}

// statusFromPanic classifies a recovered panic value and builds the status
// error returned to the client.
func (i *recoveryInterceptor) statusFromPanic(ctx context.Context, recovered any, fullMethod string) error {
	if violation, ok := fail.AsViolation(recovered); ok {
		i.logger.Log(ctx, log.LevelError, "rpc aborted by contract violation",
			log.String("violation_id", violation.ID),
			log.String("method", fullMethod),
		)

		if runtime.IsProductionMode() {
			return status.Errorf(codes.Internal, "contract violation (violation_id: %s)", violation.ID)
		}

		return status.Errorf(codes.Internal, "contract violation: %s (violation_id: %s)",
			violation.Message, violation.ID)
	}

	runtime.HandlePanicValue(ctx, i.logger, recovered, i.component, "handler")

	return status.Error(codes.Internal, "internal server error")
}
