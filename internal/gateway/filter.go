// Package gateway implements the trust boundary between raw client
// credentials and the internally trusted forwarded identity. Downstream
// services never see the bearer token; they see only the x-user-data header
// this filter asserts after verification.
package gateway

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/learning-platform/internal/auth"
	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/identity"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

// accessTokenCookie mirrors the cookie name clients persist the access token
// under.
const accessTokenCookie = "accessToken"

// AuthFilter verifies inbound credentials and re-emits them as a
// forwarded-identity assertion on the upstream hop.
type AuthFilter struct {
	tokens *auth.TokenManager
}

// NewAuthFilter constructs the filter.
func NewAuthFilter(tokens *auth.TokenManager) *AuthFilter {
	return &AuthFilter{tokens: tokens}
}

// Handle authenticates the request. Verification failure denies access with
// 401 regardless of cause; expired vs malformed differs only in the error
// code. On success the decoded claims replace the inbound credential: the
// x-user-data header is attached for the upstream hop and the Authorization
// header is stripped so the raw token never crosses the boundary.
func (f *AuthFilter) Handle(c *fiber.Ctx) error {
	token := extractToken(c)
	if token == "" {
		return apperrors.NewUnauthorized("you're unauthorized, please login first")
	}

	claims, err := f.tokens.ParseAccessToken(token)
	if err != nil {
		return err
	}

	encoded, err := identity.EncodeHeader(claims)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	c.Request().Header.Set(identity.HeaderName, encoded)
	c.Request().Header.Del(fiber.HeaderAuthorization)
	identity.IntoContext(c, claims)
	return c.Next()
}

// RequireRole gates a route on the verified role. This runs as a distinct
// step after Handle: missing identity is 401, wrong role is 403.
func (f *AuthFilter) RequireRole(role domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := identity.FromContext(c)
		if !ok {
			return apperrors.NewAuthInvalid("missing identity")
		}
		if claims.Role != role {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// StripForwardedIdentity removes any client-supplied x-user-data header.
// Only the filter may produce that assertion.
func StripForwardedIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Request().Header.Del(identity.HeaderName)
		return c.Next()
	}
}

func extractToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Cookies(accessTokenCookie)
}
