package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/learning-platform/internal/api/http/handlers"
	"github.com/spec-kit/learning-platform/internal/domain"
)

// AuthRouteConfig bundles dependencies for the auth-service routes.
type AuthRouteConfig struct {
	Health *handlers.HealthHandler
	Auth   *handlers.AuthHandler
}

// RegisterAuthRoutes wires the auth-service HTTP routes. Register, login and
// refresh are public; logout requires the gateway-forwarded identity.
func RegisterAuthRoutes(app *fiber.App, cfg AuthRouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh-token", cfg.Auth.RefreshToken)
	authGroup.Post("/logout", RequireForwardedIdentity(), cfg.Auth.Logout)
}

// UserRouteConfig bundles dependencies for the user-service routes.
type UserRouteConfig struct {
	Health *handlers.HealthHandler
	Users  *handlers.UserHandler
}

// RegisterUserRoutes wires the user-service HTTP routes. Every route is
// protected: requests reach this service only through the gateway, and the
// forwarded-identity header is the sole accepted credential.
func RegisterUserRoutes(app *fiber.App, cfg UserRouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	userGroup := app.Group("/api/v1/user", RequireForwardedIdentity())
	userGroup.Patch("/change-password", cfg.Users.ChangePassword)
	userGroup.Get("/current-user", cfg.Users.CurrentUser)
	userGroup.Patch("/update-account", cfg.Users.UpdateAccount)
	userGroup.Delete("/delete-user", cfg.Users.DeleteUser)
	userGroup.Get("/all-users", RequireRole(domain.RoleAdmin), cfg.Users.AllUsers)
}
