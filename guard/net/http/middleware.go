package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/lib-guard/guard/fail"
	"github.com/LerianStudio/lib-guard/guard/log"
	"github.com/LerianStudio/lib-guard/guard/runtime"
)

type recoveryMiddleware struct {
	logger    log.Logger
	component string
}

// RecoveryOption configures WithViolationRecovery.
type RecoveryOption func(m *recoveryMiddleware)

// WithRecoveryLogger is a functional option setting the logger used for
// request-abort log lines and foreign panic reports.
func WithRecoveryLogger(logger log.Logger) RecoveryOption {
	return func(m *recoveryMiddleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRecoveryComponent is a functional option setting the component label
// used on panic metrics. Defaults to "http".
func WithRecoveryComponent(component string) RecoveryOption {
	return func(m *recoveryMiddleware) {
		if component != "" {
			m.component = component
		}
	}
}

// buildRecoveryOpts creates a recoveryMiddleware with options applied.
func buildRecoveryOpts(opts ...RecoveryOption) *recoveryMiddleware {
	mid := &recoveryMiddleware{
		logger:    &log.NopLogger{},
		component: "http",
	}

	for _, opt := range opts {
		opt(mid)
	}

	return mid
}

// WithViolationRecovery is a middleware that converts panics raised below it
// into structured 500 responses.
//
// A contract violation was already logged, counted, and attached to the
// active span at the raise site, so the middleware does not report it again.
// It writes a 500 ErrorResponse whose ViolationID correlates with that
// telemetry; the violation message is replaced by a generic one in
// production mode.
//
// Any other panic value is a crash, not a contract violation. It is routed
// through guard/runtime (log, panic metric, error reporter) and answered
// with a generic 500 that carries no internal detail.
func WithViolationRecovery(opts ...RecoveryOption) fiber.Handler {
	mid := buildRecoveryOpts(opts...)

	return func(c *fiber.Ctx) (err error) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			if violation, ok := fail.AsViolation(recovered); ok {
				mid.logger.Log(c.UserContext(), log.LevelError, "request aborted by contract violation",
					log.String("violation_id", violation.ID),
					log.String("method", c.Method()),
					log.String("path", c.Path()),
				)

				err = writeViolation(c, violation)

				return
			}

			runtime.HandlePanicValue(c.UserContext(), mid.logger, recovered, mid.component, "handler")

			err = InternalServerError(c)
		}()

		return c.Next()
	}
}

// writeViolation writes the 500 response for a recovered contract violation.
func writeViolation(c *fiber.Ctx, violation *fail.Violation) error {
	message := violation.Message
	if runtime.IsProductionMode() {
		message = "internal server error"
	}

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Code:        strconv.Itoa(fiber.StatusInternalServerError),
		Title:       "contract_violation",
		Message:     message,
		ViolationID: violation.ID,
	})
}
