package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/lib-guard/guard"
	"github.com/LerianStudio/lib-guard/guard/fail"
)

// SetLocal stores a request-scoped dependency under key. Call it from wiring
// middleware so handlers can retrieve the handle with Local.
func SetLocal[T any](c *fiber.Ctx, key string, value T) {
	c.Locals(key, value)
}

// Local returns the request-scoped dependency stored under key, wrapped in a
// NonNil. A missing key, a value of the wrong type, or a nil handle is a
// contract violation: under WithViolationRecovery the request answers 500
// instead of dereferencing nil deeper in the handler.
//
// T must be a nilable kind (pointer, interface, map, slice, channel, or
// function), the same contract as guard.New.
func Local[T any](c *fiber.Ctx, key string) guard.NonNil[T] {
	value, ok := c.Locals(key).(T)
	fail.In("http", "local").Fast(c.UserContext(), ok,
		"request-local dependency missing or mistyped", "key", key)

	return guard.New(value)
}
