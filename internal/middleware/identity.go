package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/narrately/api/internal/logger"
)

// HeaderClientID identifies the caller for rate limiting and logs
const HeaderClientID = "X-Client-ID"

const localsClientID = "clientId"

// ClientIdentity resolves the caller once per request and stores it in the
// Fiber locals and the request context.
func ClientIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := ClientID(c)
		c.SetUserContext(logger.ContextWithClientID(c.UserContext(), id))
		return c.Next()
	}
}

// ClientID returns the caller identity: the X-Client-ID header, else the
// remote IP.
func ClientID(c *fiber.Ctx) string {
	if id, ok := c.Locals(localsClientID).(string); ok && id != "" {
		return id
	}
	id := strings.TrimSpace(c.Get(HeaderClientID))
	if id == "" {
		id = c.IP()
	}
	c.Locals(localsClientID, id)
	return id
}
