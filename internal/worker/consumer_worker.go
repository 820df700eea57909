package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/learning-platform/internal/config"
	"github.com/spec-kit/learning-platform/internal/messaging"
	"github.com/spec-kit/learning-platform/internal/service"
)

// RegisterAuthConsumers subscribes the auth-service command handlers.
func RegisterAuthConsumers(broker messaging.Broker, cfg config.BrokerConfig, passwords *service.PasswordService, logger *zap.Logger) error {
	subscriptions := []struct {
		topic   string
		handler messaging.Handler
	}{
		{messaging.Topic(cfg.UserExchange, messaging.KeyPasswordChange), passwords.HandleChangeCommand},
		{messaging.Topic(cfg.UserExchange, messaging.KeyUserDeleted), passwords.HandleUserDeleted},
	}

	for _, sub := range subscriptions {
		if err := broker.Subscribe(sub.topic, recovered(sub.handler, logger)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterUserConsumers subscribes the user-service event handlers,
// including the outcome channel that settles pending sagas.
func RegisterUserConsumers(broker messaging.Broker, cfg config.BrokerConfig, users *service.UserService, logger *zap.Logger) error {
	subscriptions := []struct {
		topic   string
		handler messaging.Handler
	}{
		{messaging.Topic(cfg.AuthExchange, messaging.KeyAccountCreate), users.HandleAccountCreate},
		{messaging.Topic(cfg.AuthExchange, messaging.KeyPasswordChangeSuccess), users.HandleChangeSucceeded},
		{messaging.Topic(cfg.AuthExchange, messaging.KeyPasswordChangeFailed), users.HandleChangeFailed},
	}

	for _, sub := range subscriptions {
		if err := broker.Subscribe(sub.topic, recovered(sub.handler, logger)); err != nil {
			return err
		}
	}
	return nil
}

// recovered keeps a panicking handler from killing the subscription loop; the
// next message must still be consumed.
func recovered(handler messaging.Handler, logger *zap.Logger) messaging.Handler {
	return func(ctx context.Context, body []byte) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("consumer panic recovered", zap.Any("panic", r))
			}
		}()
		handler(ctx, body)
	}
}
