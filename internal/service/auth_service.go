package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/learning-platform/internal/auth"
	"github.com/spec-kit/learning-platform/internal/config"
	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/messaging"
	"github.com/spec-kit/learning-platform/internal/repository"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

// AuthService coordinates registration, login and the refresh-token
// rotation. The stored refresh token is the rotation anchor: presenting a
// refresh token that no longer matches the stored one is treated as expired
// or already used.
type AuthService struct {
	accounts   repository.AccountRepository
	tokenMgr   *auth.TokenManager
	broker     messaging.Broker
	exchange   string
	bcryptCost int
	logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, accounts repository.AccountRepository, broker messaging.Broker, logger *zap.Logger) *AuthService {
	return &AuthService{
		accounts: accounts,
		tokenMgr: auth.NewTokenManager(
			cfg.Auth.AccessTokenSecret,
			cfg.Auth.RefreshTokenSecret,
			cfg.Auth.AccessTokenTTL(),
			cfg.Auth.RefreshTokenTTL(),
		),
		broker:     broker,
		exchange:   cfg.Broker.AuthExchange,
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     logger,
	}
}

// Register creates a new account and announces it so the user service can
// create the matching profile. The announcement is fire-and-forget; a broker
// outage does not fail the registration.
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName string) (*domain.Account, domain.TokenPair, error) {
	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, domain.TokenPair{}, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.TokenPair{}, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}

	account := &domain.Account{
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, domain.TokenPair{}, err
	}

	topic := messaging.Topic(s.exchange, messaging.KeyAccountCreate)
	if err := messaging.PublishJSON(ctx, s.broker, topic, messaging.AccountCreateEvent{
		UserID:    account.ID,
		FirstName: firstName,
		LastName:  lastName,
	}); err != nil {
		s.logger.Error("failed to publish account create event",
			zap.String("user_id", account.ID), zap.Error(err))
	}

	pair, err := s.issuePair(ctx, account)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	return account, pair, nil
}

// Login authenticates an account and issues a fresh token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Account, domain.TokenPair, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.TokenPair{}, apperrors.NewUnauthorized("invalid user credentials")
		}
		return nil, domain.TokenPair{}, err
	}
	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, domain.TokenPair{}, apperrors.NewUnauthorized("invalid user credentials")
	}

	pair, err := s.issuePair(ctx, account)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	return account, pair, nil
}

// Refresh rotates the token pair. The presented refresh token must verify
// and match the stored one; any failure is terminal for the caller's
// session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.Account, domain.TokenPair, error) {
	claims, err := s.tokenMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, domain.TokenPair{}, apperrors.NewRefreshFailed("invalid refresh token")
	}

	account, err := s.accounts.GetByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.TokenPair{}, apperrors.NewRefreshFailed("invalid refresh token")
		}
		return nil, domain.TokenPair{}, err
	}
	if account.RefreshToken == "" || account.RefreshToken != refreshToken {
		return nil, domain.TokenPair{}, apperrors.NewRefreshFailed("refresh token is expired or used")
	}

	pair, err := s.issuePair(ctx, account)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	return account, pair, nil
}

// Logout clears the stored refresh token, invalidating the pair held by the
// client.
func (s *AuthService) Logout(ctx context.Context, subjectID string) error {
	if err := s.accounts.SetRefreshToken(ctx, subjectID, ""); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("account", nil)
		}
		return err
	}
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issuePair(ctx context.Context, account *domain.Account) (domain.TokenPair, error) {
	pair, err := s.tokenMgr.GeneratePair(account)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := s.accounts.SetRefreshToken(ctx, account.ID, pair.RefreshToken); err != nil {
		return domain.TokenPair{}, err
	}
	return pair, nil
}
