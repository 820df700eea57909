package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/learning-platform/internal/api/dto"
	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/identity"
	"github.com/spec-kit/learning-platform/internal/service"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

// AuthHandler exposes the auth-service HTTP surface.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	account, pair, err := h.auth.Register(c.UserContext(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    account.ID,
				"email": account.Email,
				"role":  account.Role,
			},
			"auth": tokenResponse(pair),
		},
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	account, pair, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    account.ID,
				"email": account.Email,
				"role":  account.Role,
			},
			"auth": tokenResponse(pair),
		},
	})
}

// RefreshToken handles POST /api/v1/auth/refresh-token.
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.RefreshToken == "" {
		return apperrors.NewRefreshFailed("refresh token required")
	}

	_, pair, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{"auth": tokenResponse(pair)},
	})
}

// Logout handles POST /api/v1/auth/logout. The route is gateway-protected,
// so identity arrives as the forwarded header.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	claims, ok := identity.FromContext(c)
	if !ok {
		return apperrors.NewAuthInvalid("missing or invalid forwarded identity")
	}

	if err := h.auth.Logout(c.UserContext(), claims.SubjectID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{}, "message": "user logged out successfully"})
}

func tokenResponse(pair domain.TokenPair) dto.AuthResponse {
	return dto.AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		AccessExpiry: pair.AccessExpiry,
	}
}
