// Package signal implements core.SignalChannel over the relay bus.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/bus"
	"github.com/dkeye/matchcall/internal/core"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/protocol"
)

var ErrNotOpen = errors.New("signal channel not open")

// BrokerChannel talks to a bus.Broker directly. Payloads on the broker are
// relay message frames, so a BrokerChannel and WebSocket clients of a relay
// sharing the same broker see each other.
type BrokerChannel struct {
	broker bus.Broker

	mu      sync.Mutex
	topic   domain.Topic
	sub     bus.Subscription
	handler func(protocol.Message)
	closed  bool
}

func NewBrokerChannel(broker bus.Broker) *BrokerChannel {
	return &BrokerChannel{broker: broker}
}

func (c *BrokerChannel) Open(ctx context.Context, topic domain.Topic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.sub != nil {
		return nil
	}
	sub, err := c.broker.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("open %s: %w", topic, err)
	}
	c.topic, c.sub = topic, sub
	go c.loop(sub)
	log.Info().Str("module", "signal.broker").Str("topic", string(topic)).Msg("channel open")
	return nil
}

// loop stops delivering as soon as the channel is closed, even if the
// subscription still has buffered deliveries.
func (c *BrokerChannel) loop(sub bus.Subscription) {
	for d := range sub.C() {
		msg, ok := decodeFrame(d.Payload)
		if !ok {
			continue
		}
		c.mu.Lock()
		h, closed := c.handler, c.closed
		c.mu.Unlock()
		if h != nil && !closed {
			h(msg)
		}
	}
}

func (c *BrokerChannel) Send(msg protocol.Message) error {
	c.mu.Lock()
	topic, open := c.topic, c.sub != nil && !c.closed
	c.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	frame, err := encodeFrame(protocol.OpMessage, topic, msg)
	if err != nil {
		return err
	}
	return c.broker.Publish(context.Background(), topic, frame)
}

func (c *BrokerChannel) OnMessage(h func(protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *BrokerChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	log.Info().Str("module", "signal.broker").Str("topic", string(c.topic)).Msg("channel closed")
}

func encodeFrame(op protocol.Op, topic domain.Topic, msg protocol.Message) ([]byte, error) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return json.Marshal(protocol.Frame{
		Op:      op,
		Topic:   topic,
		Event:   protocol.Event,
		Payload: payload,
	})
}

// decodeFrame extracts a signaling message from a relay message frame.
// Anything else is logged and skipped.
func decodeFrame(data []byte) (protocol.Message, bool) {
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("bad frame")
		return nil, false
	}
	if f.Op != protocol.OpMessage || f.Event != protocol.Event {
		return nil, false
	}
	msg, err := protocol.Decode(f.Payload)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("bad signaling payload")
		return nil, false
	}
	return msg, true
}
