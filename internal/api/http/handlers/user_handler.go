package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/learning-platform/internal/api/dto"
	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/identity"
	"github.com/spec-kit/learning-platform/internal/service"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

// UserHandler exposes the user-service HTTP surface. Every route requires a
// gateway-forwarded identity.
type UserHandler struct {
	users *service.UserService
}

// NewUserHandler constructs handler.
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{users: userService}
}

// ChangePassword handles PATCH /api/v1/user/change-password. The call blocks
// until the password-change saga settles: 200 on success, 400 with the
// remote validation reason, 409 when a change for this subject is already in
// flight, 408 when the saga times out.
func (h *UserHandler) ChangePassword(c *fiber.Ctx) error {
	claims, ok := identity.FromContext(c)
	if !ok {
		return apperrors.NewAuthInvalid("missing or invalid forwarded identity")
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.OldPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		return apperrors.NewValidationError("oldPassword, newPassword and confirmPassword required", nil)
	}

	if err := h.users.ChangePassword(c.UserContext(), claims.SubjectID, req.OldPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data":    fiber.Map{},
		"message": "password changed successfully",
	})
}

// CurrentUser handles GET /api/v1/user/current-user.
func (h *UserHandler) CurrentUser(c *fiber.Ctx) error {
	claims, ok := identity.FromContext(c)
	if !ok {
		return apperrors.NewAuthInvalid("missing or invalid forwarded identity")
	}

	profile, err := h.users.CurrentUser(c.UserContext(), claims.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": profileResponse(profile)})
}

// UpdateAccount handles PATCH /api/v1/user/update-account.
func (h *UserHandler) UpdateAccount(c *fiber.Ctx) error {
	claims, ok := identity.FromContext(c)
	if !ok {
		return apperrors.NewAuthInvalid("missing or invalid forwarded identity")
	}

	var req dto.UpdateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	profile, err := h.users.UpdateAccount(c.UserContext(), claims.SubjectID, req.FirstName, req.LastName)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": profileResponse(profile)})
}

// DeleteUser handles DELETE /api/v1/user/delete-user.
func (h *UserHandler) DeleteUser(c *fiber.Ctx) error {
	claims, ok := identity.FromContext(c)
	if !ok {
		return apperrors.NewAuthInvalid("missing or invalid forwarded identity")
	}

	if err := h.users.DeleteUser(c.UserContext(), claims.SubjectID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{}, "message": "current user deleted successfully"})
}

// AllUsers handles GET /api/v1/user/all-users. The gateway role-gates the
// route; the service re-checks the forwarded role as a second line.
func (h *UserHandler) AllUsers(c *fiber.Ctx) error {
	profiles, err := h.users.ListUsers(c.UserContext())
	if err != nil {
		return err
	}

	out := make([]dto.ProfileResponse, 0, len(profiles))
	for i := range profiles {
		out = append(out, profileResponse(&profiles[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

func profileResponse(p *domain.Profile) dto.ProfileResponse {
	return dto.ProfileResponse{
		UserID:    p.UserID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Avatar:    p.Avatar,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
