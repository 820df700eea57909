package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/learning-platform/internal/auth"
	"github.com/spec-kit/learning-platform/internal/config"
	"github.com/spec-kit/learning-platform/internal/messaging"
	"github.com/spec-kit/learning-platform/internal/repository"
)

// PasswordService is the auth-service consumer side of the password-change
// saga. It is the sole writer of the stored credential; the user service
// never mutates it directly, only through the command channel.
type PasswordService struct {
	accounts   repository.AccountRepository
	broker     messaging.Broker
	exchange   string
	bcryptCost int
	logger     *zap.Logger
}

// NewPasswordService builds the consumer.
func NewPasswordService(cfg config.Config, accounts repository.AccountRepository, broker messaging.Broker, logger *zap.Logger) *PasswordService {
	return &PasswordService{
		accounts:   accounts,
		broker:     broker,
		exchange:   cfg.Broker.AuthExchange,
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     logger,
	}
}

// HandleChangeCommand validates and applies one password-change command and
// emits exactly one outcome event. The validation sequence is strictly
// ordered and short-circuiting, so the reported reason is always the first
// violated precondition. No mutation happens until every check passes.
// Duplicate deliveries re-run the checks and emit another outcome, which the
// initiating side discards for already-settled correlation ids.
func (s *PasswordService) HandleChangeCommand(ctx context.Context, body []byte) {
	var cmd messaging.PasswordChangeCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		s.logger.Error("malformed password change command", zap.Error(err))
		return
	}

	// one bad command must never take the consumer down or leave the
	// initiating side hanging without an outcome
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling password change command",
				zap.String("user_id", cmd.UserID), zap.Any("panic", r))
			s.publishOutcome(ctx, messaging.KeyPasswordChangeFailed, cmd.UserID, "Internal server error")
		}
	}()

	if err := s.changePassword(ctx, cmd); err != nil {
		s.logger.Error("password change failed unexpectedly",
			zap.String("user_id", cmd.UserID), zap.Error(err))
		s.publishOutcome(ctx, messaging.KeyPasswordChangeFailed, cmd.UserID, "Internal server error")
	}
}

func (s *PasswordService) changePassword(ctx context.Context, cmd messaging.PasswordChangeCommand) error {
	account, err := s.accounts.GetByID(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.publishOutcome(ctx, messaging.KeyPasswordChangeFailed, cmd.UserID, "User not found")
			return nil
		}
		return err
	}

	if err := auth.ComparePassword(account.PasswordHash, cmd.OldPassword); err != nil {
		s.publishOutcome(ctx, messaging.KeyPasswordChangeFailed, cmd.UserID, "Current password is incorrect")
		return nil
	}

	if cmd.OldPassword == cmd.NewPassword {
		s.publishOutcome(ctx, messaging.KeyPasswordChangeFailed, cmd.UserID, "New password cannot be the same as current password")
		return nil
	}

	if cmd.NewPassword != cmd.ConfirmPassword {
		s.publishOutcome(ctx, messaging.KeyPasswordChangeFailed, cmd.UserID, "New password and confirm password do not match")
		return nil
	}

	// guards against a supplied "current" password that differs from the
	// stored one textually but hashes to the same credential, making the
	// change a no-op
	if err := auth.ComparePassword(account.PasswordHash, cmd.NewPassword); err == nil {
		s.publishOutcome(ctx, messaging.KeyPasswordChangeFailed, cmd.UserID, "New password cannot be the same as current password")
		return nil
	}

	hash, err := auth.HashPassword(cmd.NewPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePasswordHash(ctx, cmd.UserID, hash); err != nil {
		return err
	}

	s.publishOutcome(ctx, messaging.KeyPasswordChangeSuccess, cmd.UserID, "Password changed successfully")
	return nil
}

// HandleUserDeleted removes the credential record for a deleted user. A
// missing record is a logged no-op so redelivered events stay harmless.
func (s *PasswordService) HandleUserDeleted(ctx context.Context, body []byte) {
	var event messaging.UserDeletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("malformed user deleted event", zap.Error(err))
		return
	}

	if err := s.accounts.Delete(ctx, event.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("no account for deleted user", zap.String("user_id", event.UserID))
			return
		}
		s.logger.Error("failed to delete account", zap.String("user_id", event.UserID), zap.Error(err))
	}
}

func (s *PasswordService) publishOutcome(ctx context.Context, routingKey, userID, reason string) {
	topic := messaging.Topic(s.exchange, routingKey)
	if err := messaging.PublishJSON(ctx, s.broker, topic, messaging.OutcomeEvent{
		UserID: userID,
		Reason: reason,
	}); err != nil {
		s.logger.Error("failed to publish outcome",
			zap.String("routing_key", routingKey),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
