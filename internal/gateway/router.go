package gateway

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/learning-platform/internal/api/http/handlers"
	"github.com/spec-kit/learning-platform/internal/config"
	"github.com/spec-kit/learning-platform/internal/domain"
)

// RouteConfig bundles dependencies for gateway route registration.
type RouteConfig struct {
	Health   *handlers.HealthHandler
	Filter   *AuthFilter
	Upstream config.GatewayConfig
}

// RegisterRoutes wires the gateway's three route classes: public routes are
// proxied untouched, authenticated routes pass through the filter, and
// role-gated routes add a role check on top.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)

	api := app.Group("/api/v1", StripForwardedIdentity())

	// public: the auth service handles its own credential checks
	api.Post("/auth/register", Forward(cfg.Upstream.AuthServiceURL))
	api.Post("/auth/login", Forward(cfg.Upstream.AuthServiceURL))
	api.Post("/auth/refresh-token", Forward(cfg.Upstream.AuthServiceURL))

	// authenticated
	api.Post("/auth/logout", cfg.Filter.Handle, Forward(cfg.Upstream.AuthServiceURL))

	user := api.Group("/user", cfg.Filter.Handle)
	user.Get("/all-users", cfg.Filter.RequireRole(domain.RoleAdmin), Forward(cfg.Upstream.UserServiceURL))
	user.All("/*", Forward(cfg.Upstream.UserServiceURL))
}
