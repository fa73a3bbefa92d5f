package core

import (
	"context"

	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/protocol"
)

// SignalChannel is the per-call topic on the realtime bus.
// Owned by the controller; the controller must Close() it.
type SignalChannel interface {
	// Open subscribes to topic. Calling it again on an open channel is a no-op.
	Open(ctx context.Context, topic domain.Topic) error
	// Send publishes msg; fire-and-forget, no delivery acknowledgment.
	Send(msg protocol.Message) error
	// OnMessage registers the inbound handler. Self-published messages are
	// delivered as well.
	OnMessage(func(protocol.Message))
	Close()
}
