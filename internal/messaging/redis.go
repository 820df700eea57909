package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrBrokerClosed is returned for operations on a closed broker.
var ErrBrokerClosed = errors.New("broker closed")

// redisBroker implements Broker on Redis pub/sub channels. One channel per
// exchange/routing-key pair, standing in for the topic exchange of the
// original deployment.
type redisBroker struct {
	client *redis.Client
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
	pubsubs []*redis.PubSub
	closed  bool
}

// NewRedisBroker builds a broker on an existing Redis client. The client's
// lifecycle stays with the caller.
func NewRedisBroker(client *redis.Client, logger *zap.Logger) Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &redisBroker{
		client: client,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *redisBroker) Publish(ctx context.Context, topic string, body []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}
	return b.client.Publish(ctx, topic, body).Err()
}

func (b *redisBroker) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	pubsub := b.client.Subscribe(b.ctx, topic)
	if _, err := pubsub.Receive(b.ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	b.pubsubs = append(b.pubsubs, pubsub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case <-b.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(b.ctx, []byte(msg.Payload))
			}
		}
	}()

	b.logger.Info("subscribed", zap.String("topic", topic))
	return nil
}

func (b *redisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsubs := b.pubsubs
	b.mu.Unlock()

	b.cancel()
	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	b.wg.Wait()
	return nil
}
