package publisher

import "context"

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Publisher defines the interface for publishing messages and listening on
// the topics the daemon is commanded through.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers fn for topic. Subscriptions survive reconnects.
	Subscribe(topic string, fn Handler) error
	Close() error
}
