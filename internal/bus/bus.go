// Package bus is the topic-scoped publish/subscribe layer the relay fans
// signaling through. Delivery is at-least-once per live subscription and
// nothing is persisted.
package bus

import (
	"context"
	"errors"

	"github.com/dkeye/matchcall/internal/domain"
)

var ErrClosed = errors.New("bus closed")

// Delivery is one payload published on a topic.
type Delivery struct {
	Topic   domain.Topic
	Payload []byte
}

// Subscription streams deliveries until Close or until the broker shuts down.
type Subscription interface {
	C() <-chan Delivery
	Close()
}

type Broker interface {
	Publish(ctx context.Context, topic domain.Topic, payload []byte) error
	Subscribe(ctx context.Context, topic domain.Topic) (Subscription, error)
	Close() error
}
