package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/identity"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

// TokenManager issues and verifies the access/refresh token pair. Access and
// refresh tokens are signed with separate secrets.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// Claims describes the JWT payload for both token kinds.
type Claims struct {
	SubjectID string      `json:"sub"`
	Role      domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// GeneratePair builds and signs a fresh access/refresh pair for the account.
func (tm *TokenManager) GeneratePair(account *domain.Account) (domain.TokenPair, error) {
	now := time.Now()
	accessExpiry := now.Add(tm.accessTTL)

	access, err := tm.sign(account, tm.accessSecret, now, accessExpiry)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := tm.sign(account, tm.refreshSecret, now, now.Add(tm.refreshTTL))
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExpiry: accessExpiry,
	}, nil
}

func (tm *TokenManager) sign(account *domain.Account, secret []byte, issuedAt, expiresAt time.Time) (string, error) {
	// the jti makes consecutive pairs distinct even within the same
	// second; rotation relies on old and new refresh tokens differing
	claims := &Claims{
		SubjectID: account.ID,
		Role:      account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseAccessToken verifies an access token. Expiry and any other
// verification failure both deny access; they differ only in the error code
// returned for client messaging.
func (tm *TokenManager) ParseAccessToken(tokenStr string) (identity.Claims, error) {
	return tm.parse(tokenStr, tm.accessSecret)
}

// ParseRefreshToken verifies a refresh token.
func (tm *TokenManager) ParseRefreshToken(tokenStr string) (identity.Claims, error) {
	return tm.parse(tokenStr, tm.refreshSecret)
}

func (tm *TokenManager) parse(tokenStr string, secret []byte) (identity.Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return identity.Claims{}, apperrors.NewAuthExpired("your session has expired, please login again")
		}
		return identity.Claims{}, apperrors.NewAuthInvalid("invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return identity.Claims{}, apperrors.NewAuthInvalid("invalid token claims")
	}

	out := identity.Claims{
		SubjectID: claims.SubjectID,
		Role:      claims.Role,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
