package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	httpapi "github.com/spec-kit/learning-platform/internal/api/http"
	"github.com/spec-kit/learning-platform/internal/api/http/handlers"
	"github.com/spec-kit/learning-platform/internal/auth"
	"github.com/spec-kit/learning-platform/internal/config"
	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/identity"
	"github.com/spec-kit/learning-platform/internal/messaging"
	"github.com/spec-kit/learning-platform/internal/observability"
	"github.com/spec-kit/learning-platform/internal/saga"
	"github.com/spec-kit/learning-platform/internal/service"
)

type memAccountRepo struct {
	accounts map[string]*domain.Account
}

func (r *memAccountRepo) Create(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		account.ID = fmt.Sprintf("acct-%d", len(r.accounts)+1)
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *memAccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return account, nil
}

func (r *memAccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	for _, a := range r.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memAccountRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	account, ok := r.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	account.PasswordHash = passwordHash
	return nil
}

func (r *memAccountRepo) SetRefreshToken(ctx context.Context, id, refreshToken string) error {
	account, ok := r.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	account.RefreshToken = refreshToken
	return nil
}

func (r *memAccountRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.accounts[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.accounts, id)
	return nil
}

type memProfileRepo struct {
	profiles map[string]*domain.Profile
}

func (r *memProfileRepo) Create(ctx context.Context, profile *domain.Profile) error {
	if _, ok := r.profiles[profile.UserID]; ok {
		return nil
	}
	r.profiles[profile.UserID] = profile
	return nil
}

func (r *memProfileRepo) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	profile, ok := r.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return profile, nil
}

func (r *memProfileRepo) Update(ctx context.Context, profile *domain.Profile) error {
	r.profiles[profile.UserID] = profile
	return nil
}

func (r *memProfileRepo) Delete(ctx context.Context, userID string) error {
	if _, ok := r.profiles[userID]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.profiles, userID)
	return nil
}

func (r *memProfileRepo) List(ctx context.Context) ([]domain.Profile, error) {
	out := make([]domain.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, *p)
	}
	return out, nil
}

type userAppFixture struct {
	app        *fiber.App
	accounts   *memAccountRepo
	profiles   *memProfileRepo
	correlator *saga.Correlator
}

// newUserApp wires the user-service HTTP app with the password consumer
// attached to the same in-memory broker, mirroring the two-process topology.
func newUserApp(t *testing.T, withAuthConsumer bool) *userAppFixture {
	t.Helper()
	var cfg config.Config
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Broker.UserExchange = "user_exchange"
	cfg.Broker.AuthExchange = "auth_exchange"
	cfg.Saga.TimeoutSeconds = 1
	cfg.Saga.MaxPending = 16

	logger := zap.NewNop()
	broker := messaging.NewMemoryBroker()
	accounts := &memAccountRepo{accounts: make(map[string]*domain.Account)}
	profiles := &memProfileRepo{profiles: make(map[string]*domain.Profile)}
	correlator := saga.NewCorrelator(cfg.Saga.MaxPending, logger, observability.NewMetrics())

	users := service.NewUserService(cfg, profiles, broker, correlator, logger)
	passwords := service.NewPasswordService(cfg, accounts, broker, logger)

	if withAuthConsumer {
		require.NoError(t, broker.Subscribe(
			messaging.Topic("user_exchange", messaging.KeyPasswordChange),
			passwords.HandleChangeCommand,
		))
	}
	require.NoError(t, broker.Subscribe(
		messaging.Topic("auth_exchange", messaging.KeyPasswordChangeSuccess),
		users.HandleChangeSucceeded,
	))
	require.NoError(t, broker.Subscribe(
		messaging.Topic("auth_exchange", messaging.KeyPasswordChangeFailed),
		users.HandleChangeFailed,
	))

	app := fiber.New()
	httpapi.RegisterMiddlewares(app, logger, observability.NewMetrics(), 0)
	httpapi.RegisterUserRoutes(app, httpapi.UserRouteConfig{
		Health: handlers.NewHealthHandler("user-service", "test", nil, nil),
		Users:  handlers.NewUserHandler(users),
	})

	return &userAppFixture{app: app, accounts: accounts, profiles: profiles, correlator: correlator}
}

func (f *userAppFixture) seedAccount(t *testing.T, id, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	f.accounts.accounts[id] = &domain.Account{ID: id, Email: id + "@example.com", PasswordHash: hash}
	f.profiles.profiles[id] = &domain.Profile{UserID: id, FirstName: "Ada", LastName: "Lovelace"}
}

func identityHeader(t *testing.T, id string, role domain.Role) string {
	t.Helper()
	encoded, err := identity.EncodeHeader(identity.Claims{SubjectID: id, Role: role})
	require.NoError(t, err)
	return encoded
}

func changePasswordRequest(t *testing.T, subject, old, new, confirm string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"oldPassword":     old,
		"newPassword":     new,
		"confirmPassword": confirm,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/user/change-password", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if subject != "" {
		req.Header.Set(identity.HeaderName, identityHeader(t, subject, domain.RoleUser))
	}
	return req
}

func decodeError(t *testing.T, resp *http.Response) (code, message string) {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Error.Code, payload.Error.Message
}

func TestChangePasswordEndpointSuccess(t *testing.T) {
	f := newUserApp(t, true)
	f.seedAccount(t, "user-1", "old-secret")

	resp, err := f.app.Test(changePasswordRequest(t, "user-1", "old-secret", "new-secret", "new-secret"), 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, auth.ComparePassword(f.accounts.accounts["user-1"].PasswordHash, "new-secret"))
}

func TestChangePasswordEndpointValidationFailure(t *testing.T) {
	f := newUserApp(t, true)
	f.seedAccount(t, "user-1", "old-secret")

	resp, err := f.app.Test(changePasswordRequest(t, "user-1", "wrong", "new-secret", "new-secret"), 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, message := decodeError(t, resp)
	assert.Equal(t, "VALIDATION_FAILED", code)
	assert.Equal(t, "Current password is incorrect", message)
}

func TestChangePasswordEndpointDuplicate(t *testing.T) {
	f := newUserApp(t, true)
	f.seedAccount(t, "user-1", "old-secret")

	// a change for the same subject is still pending
	_, err := f.correlator.Initiate("user-1", time.Minute, func() error { return nil })
	require.NoError(t, err)

	resp, err := f.app.Test(changePasswordRequest(t, "user-1", "old-secret", "new-secret", "new-secret"), 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "DUPLICATE_IN_FLIGHT", code)
}

func TestChangePasswordEndpointTimeout(t *testing.T) {
	// no consumer on the command topic, so the saga can only time out
	f := newUserApp(t, false)
	f.seedAccount(t, "user-1", "old-secret")

	resp, err := f.app.Test(changePasswordRequest(t, "user-1", "old-secret", "new-secret", "new-secret"), 10000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "TIMEOUT", code)
}

func TestChangePasswordEndpointRequiresIdentity(t *testing.T) {
	f := newUserApp(t, true)

	resp, err := f.app.Test(changePasswordRequest(t, "", "a", "b", "b"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCurrentUserEndpoint(t *testing.T) {
	f := newUserApp(t, true)
	f.seedAccount(t, "user-1", "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user/current-user", nil)
	req.Header.Set(identity.HeaderName, identityHeader(t, "user-1", domain.RoleUser))
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Data struct {
			UserID    string `json:"userId"`
			FirstName string `json:"firstName"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "user-1", payload.Data.UserID)
	assert.Equal(t, "Ada", payload.Data.FirstName)
}

func TestAllUsersEndpointRoleGate(t *testing.T) {
	f := newUserApp(t, true)
	f.seedAccount(t, "user-1", "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user/all-users", nil)
	req.Header.Set(identity.HeaderName, identityHeader(t, "user-1", domain.RoleUser))
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/user/all-users", nil)
	req.Header.Set(identity.HeaderName, identityHeader(t, "admin-1", domain.RoleAdmin))
	resp, err = f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthEndpoints(t *testing.T) {
	var cfg config.Config
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Broker.AuthExchange = "auth_exchange"

	accounts := &memAccountRepo{accounts: make(map[string]*domain.Account)}
	authService := service.NewAuthService(cfg, accounts, messaging.NewMemoryBroker(), zap.NewNop())

	app := fiber.New()
	httpapi.RegisterMiddlewares(app, zap.NewNop(), observability.NewMetrics(), 0)
	httpapi.RegisterAuthRoutes(app, httpapi.AuthRouteConfig{
		Health: handlers.NewHealthHandler("auth-service", "test", nil, nil),
		Auth:   handlers.NewAuthHandler(authService),
	})

	post := func(path string, payload any) *http.Response {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := post("/api/v1/auth/register", map[string]string{
		"email": "a@example.com", "password": "secret",
		"firstName": "Ada", "lastName": "Lovelace",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var registered struct {
		Data struct {
			Auth struct {
				RefreshToken string `json:"refreshToken"`
			} `json:"auth"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&registered))
	require.NotEmpty(t, registered.Data.Auth.RefreshToken)

	resp = post("/api/v1/auth/login", map[string]string{"email": "a@example.com", "password": "secret"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("/api/v1/auth/login", map[string]string{"email": "a@example.com", "password": "wrong"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// login rotated the stored refresh token, so the registration pair is spent
	resp = post("/api/v1/auth/refresh-token", map[string]string{"refreshToken": registered.Data.Auth.RefreshToken})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	code, message := decodeError(t, resp)
	assert.Equal(t, "REFRESH_FAILED", code)
	assert.Equal(t, "refresh token is expired or used", message)
}
