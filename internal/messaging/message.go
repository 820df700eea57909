package messaging

import (
	"context"
	"encoding/json"
)

// Routing keys shared by the auth and user services. Commands flow on the
// user exchange, outcomes and account events on the auth exchange.
const (
	KeyPasswordChange        = "user.password.changed"
	KeyPasswordChangeSuccess = "auth.password.changed.success"
	KeyPasswordChangeFailed  = "auth.password.changed.failed"
	KeyAccountCreate         = "auth.account.create"
	KeyUserDeleted           = "user.deleted"
)

// Topic builds the broker channel name for an exchange/routing-key pair.
func Topic(exchange, routingKey string) string {
	return exchange + ":" + routingKey
}

// PasswordChangeCommand asks the auth service to change a user's password.
// The command is published once per correlation id; the auth service answers
// with exactly one outcome event carrying the same user id.
type PasswordChangeCommand struct {
	UserID          string `json:"userId"`
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// OutcomeEvent reports the result of a command. Delivery may repeat; the
// correlator discards outcomes for unknown ids.
type OutcomeEvent struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// AccountCreateEvent announces a freshly registered account so the user
// service can create the matching profile row.
type AccountCreateEvent struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UserDeletedEvent announces profile deletion so the auth service can remove
// the credential record.
type UserDeletedEvent struct {
	UserID string `json:"userId"`
}

// PublishJSON marshals v and publishes it on the given topic.
func PublishJSON(ctx context.Context, broker Broker, topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return broker.Publish(ctx, topic, body)
}
