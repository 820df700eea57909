package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/learning-platform/internal/domain"
	"github.com/spec-kit/learning-platform/internal/messaging"
	"github.com/spec-kit/learning-platform/internal/observability"
	"github.com/spec-kit/learning-platform/internal/saga"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

type fakeProfileRepo struct {
	profiles map[string]*domain.Profile
}

func newFakeProfileRepo(profiles ...*domain.Profile) *fakeProfileRepo {
	r := &fakeProfileRepo{profiles: make(map[string]*domain.Profile)}
	for _, p := range profiles {
		r.profiles[p.UserID] = p
	}
	return r
}

func (r *fakeProfileRepo) Create(ctx context.Context, profile *domain.Profile) error {
	if _, ok := r.profiles[profile.UserID]; ok {
		// mirrors the insert's conflict-ignore behavior for redeliveries
		return nil
	}
	copied := *profile
	r.profiles[profile.UserID] = &copied
	return nil
}

func (r *fakeProfileRepo) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	profile, ok := r.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *profile
	return &copied, nil
}

func (r *fakeProfileRepo) Update(ctx context.Context, profile *domain.Profile) error {
	if _, ok := r.profiles[profile.UserID]; !ok {
		return pgx.ErrNoRows
	}
	copied := *profile
	r.profiles[profile.UserID] = &copied
	return nil
}

func (r *fakeProfileRepo) Delete(ctx context.Context, userID string) error {
	if _, ok := r.profiles[userID]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.profiles, userID)
	return nil
}

func (r *fakeProfileRepo) List(ctx context.Context) ([]domain.Profile, error) {
	out := make([]domain.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, *p)
	}
	return out, nil
}

// sagaFixture wires both services over one in-memory broker the way the two
// processes are wired over Redis in production. The broker delivers
// synchronously, so publishing the command runs the whole round trip inline.
type sagaFixture struct {
	accounts   *fakeAccountRepo
	profiles   *fakeProfileRepo
	correlator *saga.Correlator
	users      *UserService
	passwords  *PasswordService
	broker     messaging.Broker
}

func newSagaFixture(t *testing.T, withAuthConsumer bool, accounts *fakeAccountRepo) *sagaFixture {
	t.Helper()
	cfg := testConfig()
	logger := zap.NewNop()
	broker := messaging.NewMemoryBroker()
	correlator := saga.NewCorrelator(cfg.Saga.MaxPending, logger, observability.NewMetrics())
	profiles := newFakeProfileRepo()

	passwords := NewPasswordService(cfg, accounts, broker, logger)
	users := NewUserService(cfg, profiles, broker, correlator, logger)

	if withAuthConsumer {
		require.NoError(t, broker.Subscribe(
			messaging.Topic(cfg.Broker.UserExchange, messaging.KeyPasswordChange),
			passwords.HandleChangeCommand,
		))
		require.NoError(t, broker.Subscribe(
			messaging.Topic(cfg.Broker.UserExchange, messaging.KeyUserDeleted),
			passwords.HandleUserDeleted,
		))
	}
	require.NoError(t, broker.Subscribe(
		messaging.Topic(cfg.Broker.AuthExchange, messaging.KeyAccountCreate),
		users.HandleAccountCreate,
	))
	require.NoError(t, broker.Subscribe(
		messaging.Topic(cfg.Broker.AuthExchange, messaging.KeyPasswordChangeSuccess),
		users.HandleChangeSucceeded,
	))
	require.NoError(t, broker.Subscribe(
		messaging.Topic(cfg.Broker.AuthExchange, messaging.KeyPasswordChangeFailed),
		users.HandleChangeFailed,
	))

	return &sagaFixture{
		accounts:   accounts,
		profiles:   profiles,
		correlator: correlator,
		users:      users,
		passwords:  passwords,
		broker:     broker,
	}
}

func TestChangePasswordRoundTripSuccess(t *testing.T) {
	accounts := newFakeAccountRepo(&domain.Account{
		ID:           "user-1",
		Email:        "a@example.com",
		PasswordHash: mustHash(t, "old-secret"),
	})
	f := newSagaFixture(t, true, accounts)

	err := f.users.ChangePassword(context.Background(), "user-1", "old-secret", "new-secret", "new-secret")
	require.NoError(t, err)
	assert.Equal(t, 0, f.correlator.Len())
}

func TestChangePasswordRoundTripValidationFailure(t *testing.T) {
	accounts := newFakeAccountRepo(&domain.Account{
		ID:           "user-1",
		Email:        "a@example.com",
		PasswordHash: mustHash(t, "old-secret"),
	})
	f := newSagaFixture(t, true, accounts)

	err := f.users.ChangePassword(context.Background(), "user-1", "wrong", "new-secret", "new-secret")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "VALIDATION_FAILED"))
	assert.Equal(t, "Current password is incorrect", err.Error())
}

func TestChangePasswordRoundTripInternalError(t *testing.T) {
	accounts := newFakeAccountRepo()
	accounts.getErr = errors.New("connection reset")
	f := newSagaFixture(t, true, accounts)

	err := f.users.ChangePassword(context.Background(), "user-1", "a", "b", "b")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INTERNAL_ERROR"))
}

func TestChangePasswordDuplicateInFlight(t *testing.T) {
	// no auth consumer, so the first command stays pending until resolved
	f := newSagaFixture(t, false, newFakeAccountRepo())

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.users.ChangePassword(context.Background(), "user-1", "a", "b", "b")
	}()

	require.Eventually(t, func() bool {
		return f.correlator.Len() == 1
	}, time.Second, 5*time.Millisecond)

	err := f.users.ChangePassword(context.Background(), "user-1", "a", "b", "b")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "DUPLICATE_IN_FLIGHT"))

	// a different subject is unaffected by the in-flight change
	f.correlator.Resolve("user-1", "ok")
	assert.NoError(t, <-firstDone)
}

func TestChangePasswordTimesOutWithoutConsumer(t *testing.T) {
	f := newSagaFixture(t, false, newFakeAccountRepo())

	start := time.Now()
	err := f.users.ChangePassword(context.Background(), "user-1", "a", "b", "b")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "TIMEOUT"))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, f.correlator.Len())
}

func TestAccountCreateEventCreatesProfile(t *testing.T) {
	f := newSagaFixture(t, true, newFakeAccountRepo())

	body, err := json.Marshal(messaging.AccountCreateEvent{
		UserID:    "user-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)

	require.NoError(t, f.broker.Publish(context.Background(),
		messaging.Topic("auth_exchange", messaging.KeyAccountCreate), body))

	profile, err := f.profiles.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.FirstName)
	assert.Equal(t, "Lovelace", profile.LastName)
	assert.Equal(t, defaultAvatar, profile.Avatar)

	// redelivery leaves the existing profile alone
	require.NoError(t, f.broker.Publish(context.Background(),
		messaging.Topic("auth_exchange", messaging.KeyAccountCreate), body))
	assert.Len(t, f.profiles.profiles, 1)
}

func TestDeleteUserPropagatesToAuthService(t *testing.T) {
	accounts := newFakeAccountRepo(&domain.Account{ID: "user-1", Email: "a@example.com"})
	f := newSagaFixture(t, true, accounts)
	require.NoError(t, f.profiles.Create(context.Background(), &domain.Profile{UserID: "user-1"}))

	require.NoError(t, f.users.DeleteUser(context.Background(), "user-1"))

	assert.NotContains(t, f.profiles.profiles, "user-1")
	assert.NotContains(t, accounts.accounts, "user-1", "credential record follows the profile")
}

func TestDeleteUserNotFound(t *testing.T) {
	f := newSagaFixture(t, true, newFakeAccountRepo())

	err := f.users.DeleteUser(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NOT_FOUND"))
}

func TestCurrentUser(t *testing.T) {
	f := newSagaFixture(t, true, newFakeAccountRepo())
	require.NoError(t, f.profiles.Create(context.Background(), &domain.Profile{
		UserID:    "user-1",
		FirstName: "Ada",
	}))

	profile, err := f.users.CurrentUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.FirstName)

	_, err = f.users.CurrentUser(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NOT_FOUND"))
}

func TestUpdateAccount(t *testing.T) {
	f := newSagaFixture(t, true, newFakeAccountRepo())
	require.NoError(t, f.profiles.Create(context.Background(), &domain.Profile{
		UserID:    "user-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}))

	updated, err := f.users.UpdateAccount(context.Background(), "user-1", "Grace", "Hopper")
	require.NoError(t, err)
	assert.Equal(t, "Grace", updated.FirstName)
	assert.Equal(t, "Hopper", updated.LastName)

	stored, err := f.profiles.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Grace", stored.FirstName)
}

func TestOutcomeForUnknownSubjectIsDiscarded(t *testing.T) {
	f := newSagaFixture(t, true, newFakeAccountRepo())

	body, err := json.Marshal(messaging.OutcomeEvent{UserID: "never-initiated", Reason: "ok"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, f.broker.Publish(context.Background(),
			messaging.Topic("auth_exchange", messaging.KeyPasswordChangeSuccess), body))
	})
	assert.Equal(t, 0, f.correlator.Len())
}
