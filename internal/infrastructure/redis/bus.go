package redis

import (
	"context"
	"fmt"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
)

// Bus fans broadcast envelopes out to every process through one Pub/Sub
// channel per session.
type Bus struct {
	client *Client
	logger logger.Logger
}

var _ hub.Bus = (*Bus)(nil)

func NewBus(client *Client, log logger.Logger) *Bus {
	return &Bus{
		client: client,
		logger: log.WithField("component", "redis_bus"),
	}
}

func (b *Bus) channel(sessionID string) string {
	return b.client.key("events", sessionID)
}

func (b *Bus) Publish(ctx context.Context, sessionID string, payload []byte) error {
	if err := b.client.rdb.Publish(ctx, b.channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish to session %s: %w", sessionID, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so anything
// published afterwards is delivered. Payloads arrive in publish order and
// the channel closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan []byte, error) {
	channel := b.channel(sessionID)
	sub := b.client.rdb.Subscribe(ctx, channel)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	b.logger.Debugf("Subscribed to %s", channel)
	return out, nil
}
