package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/learning-platform/internal/config"
	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/messaging"
	"github.com/spec-kit/learning-platform/internal/repository"
	"github.com/spec-kit/learning-platform/internal/saga"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

// defaultAvatar is assigned to profiles created from account events.
const defaultAvatar = "/images/default.png"

// UserService owns the profile surface and the initiating side of the
// password-change saga.
type UserService struct {
	profiles    repository.ProfileRepository
	broker      messaging.Broker
	correlator  *saga.Correlator
	exchange    string
	sagaTimeout time.Duration
	logger      *zap.Logger
}

// NewUserService builds the service.
func NewUserService(cfg config.Config, profiles repository.ProfileRepository, broker messaging.Broker, correlator *saga.Correlator, logger *zap.Logger) *UserService {
	return &UserService{
		profiles:    profiles,
		broker:      broker,
		correlator:  correlator,
		exchange:    cfg.Broker.UserExchange,
		sagaTimeout: cfg.Saga.Timeout(),
		logger:      logger,
	}
}

// ChangePassword publishes the password-change command and blocks until the
// auth service's outcome event settles it or the saga times out. The
// correlation id is the subject id, so at most one change per subject is in
// flight; a concurrent second call is rejected, not queued.
func (s *UserService) ChangePassword(ctx context.Context, subjectID, oldPassword, newPassword, confirmPassword string) error {
	topic := messaging.Topic(s.exchange, messaging.KeyPasswordChange)
	pending, err := s.correlator.Initiate(subjectID, s.sagaTimeout, func() error {
		return messaging.PublishJSON(ctx, s.broker, topic, messaging.PasswordChangeCommand{
			UserID:          subjectID,
			OldPassword:     oldPassword,
			NewPassword:     newPassword,
			ConfirmPassword: confirmPassword,
		})
	})
	if err != nil {
		return err
	}

	out, err := pending.Wait(ctx)
	if err != nil {
		return err
	}

	switch out.State {
	case saga.StateSettledOK:
		return nil
	case saga.StateTimedOut:
		return apperrors.NewTimeout("password change timed out, please try again")
	default:
		switch out.Reason {
		case "Internal server error":
			return apperrors.NewInternalError(nil)
		case "service shutting down":
			return apperrors.NewDomainError("SHUTTING_DOWN", out.Reason, http.StatusServiceUnavailable, nil)
		default:
			return apperrors.NewValidationError(out.Reason, nil)
		}
	}
}

// CurrentUser returns the profile for the forwarded identity.
func (s *UserService) CurrentUser(ctx context.Context, subjectID string) (*domain.Profile, error) {
	profile, err := s.profiles.GetByUserID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", nil)
		}
		return nil, err
	}
	return profile, nil
}

// UpdateAccount updates the caller's profile names.
func (s *UserService) UpdateAccount(ctx context.Context, subjectID, firstName, lastName string) (*domain.Profile, error) {
	profile, err := s.profiles.GetByUserID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", nil)
		}
		return nil, err
	}

	profile.FirstName = firstName
	profile.LastName = lastName
	if err := s.profiles.Update(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// DeleteUser removes the caller's profile and announces the deletion so the
// auth service can drop the credential record.
func (s *UserService) DeleteUser(ctx context.Context, subjectID string) error {
	if err := s.profiles.Delete(ctx, subjectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("user", nil)
		}
		return err
	}

	topic := messaging.Topic(s.exchange, messaging.KeyUserDeleted)
	if err := messaging.PublishJSON(ctx, s.broker, topic, messaging.UserDeletedEvent{UserID: subjectID}); err != nil {
		s.logger.Error("failed to publish user deleted event",
			zap.String("user_id", subjectID), zap.Error(err))
	}
	return nil
}

// ListUsers returns every profile. Admin only; the gateway gates the route
// and the handler re-checks the forwarded role.
func (s *UserService) ListUsers(ctx context.Context) ([]domain.Profile, error) {
	return s.profiles.List(ctx)
}

// HandleAccountCreate creates the profile row for a freshly registered
// account. Redelivery is harmless; the insert ignores existing rows.
func (s *UserService) HandleAccountCreate(ctx context.Context, body []byte) {
	var event messaging.AccountCreateEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("malformed account create event", zap.Error(err))
		return
	}

	profile := &domain.Profile{
		UserID:    event.UserID,
		FirstName: event.FirstName,
		LastName:  event.LastName,
		Avatar:    defaultAvatar,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		s.logger.Error("failed to create profile", zap.String("user_id", event.UserID), zap.Error(err))
	}
}

// HandleChangeSucceeded settles the pending saga for the event's subject.
func (s *UserService) HandleChangeSucceeded(ctx context.Context, body []byte) {
	event, ok := s.decodeOutcome(body)
	if !ok {
		return
	}
	s.correlator.Resolve(event.UserID, event.Reason)
}

// HandleChangeFailed settles the pending saga with the remote failure reason.
func (s *UserService) HandleChangeFailed(ctx context.Context, body []byte) {
	event, ok := s.decodeOutcome(body)
	if !ok {
		return
	}
	s.correlator.Reject(event.UserID, event.Reason)
}

func (s *UserService) decodeOutcome(body []byte) (messaging.OutcomeEvent, bool) {
	var event messaging.OutcomeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("malformed outcome event", zap.Error(err))
		return messaging.OutcomeEvent{}, false
	}
	return event, true
}
