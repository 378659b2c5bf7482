package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface abstracts the JetStream client so consumers can be
// tested without a live NATS server.
type ClientInterface interface {
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)
	NatsConn() *nats.Conn
	Close()
}
