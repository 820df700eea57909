package identity

import "github.com/gofiber/fiber/v2"

const localsKey = "identity_claims"

// IntoContext stores verified claims on the request context. Only the
// authentication middleware should call this.
func IntoContext(c *fiber.Ctx, claims Claims) {
	c.Locals(localsKey, claims)
}

// FromContext retrieves the claims stored by the authentication middleware.
func FromContext(c *fiber.Ctx) (Claims, bool) {
	val := c.Locals(localsKey)
	if val == nil {
		return Claims{}, false
	}
	claims, ok := val.(Claims)
	return claims, ok
}
