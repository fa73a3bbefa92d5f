// Package app holds the relay hub: connection topic membership fanned out
// over a bus.Broker.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/bus"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/observe"
	"github.com/dkeye/matchcall/internal/protocol"
)

var ErrNotJoined = errors.New("topic not joined")

// Sink is the outbound side of one relay connection.
type Sink interface {
	ID() string
	// TrySend queues one encoded frame without blocking.
	TrySend(frame []byte) error
}

type membership struct {
	sink Sink
	subs map[domain.Topic]bus.Subscription
}

// Hub tracks which connection joined which topic. Every joined topic is one
// broker subscription forwarding frames to the connection's sink.
type Hub struct {
	broker  bus.Broker
	metrics *observe.Metrics

	mu    sync.RWMutex
	conns map[string]*membership
}

func NewHub(broker bus.Broker, metrics *observe.Metrics) *Hub {
	return &Hub{
		broker:  broker,
		metrics: metrics,
		conns:   make(map[string]*membership),
	}
}

// Join subscribes sink to topic. Joining a topic twice is a no-op.
func (h *Hub) Join(ctx context.Context, sink Sink, topic domain.Topic) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[sink.ID()]
	if !ok {
		m = &membership{sink: sink, subs: make(map[domain.Topic]bus.Subscription)}
		h.conns[sink.ID()] = m
	}
	if _, ok := m.subs[topic]; ok {
		return nil
	}

	sub, err := h.broker.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	m.subs[topic] = sub
	go h.forward(sink, topic, sub)

	log.Info().Str("module", "app.hub").Str("conn", sink.ID()).Str("topic", string(topic)).Msg("joined")
	return nil
}

func (h *Hub) forward(sink Sink, topic domain.Topic, sub bus.Subscription) {
	ctx := context.Background()
	for d := range sub.C() {
		if err := sink.TrySend(d.Payload); err != nil {
			h.metrics.Dropped(ctx)
			log.Warn().Err(err).Str("module", "app.hub").Str("conn", sink.ID()).Str("topic", string(topic)).Msg("frame dropped")
			continue
		}
		h.metrics.Delivered(ctx)
	}
}

// Leave ends the subscription of connID on topic and reports whether one
// existed.
func (h *Hub) Leave(connID string, topic domain.Topic) bool {
	h.mu.Lock()
	m, ok := h.conns[connID]
	var sub bus.Subscription
	if ok {
		sub, ok = m.subs[topic]
		delete(m.subs, topic)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	sub.Close()
	log.Info().Str("module", "app.hub").Str("conn", connID).Str("topic", string(topic)).Msg("left")
	return true
}

func (h *Hub) Joined(connID string, topic domain.Topic) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.conns[connID]
	if !ok {
		return false
	}
	_, ok = m.subs[topic]
	return ok
}

// Publish fans payload out to every subscriber of topic, the publisher
// included. connID must have joined topic.
func (h *Hub) Publish(ctx context.Context, connID string, topic domain.Topic, event string, payload json.RawMessage) error {
	if !h.Joined(connID, topic) {
		return ErrNotJoined
	}
	frame, err := json.Marshal(protocol.Frame{
		Op:      protocol.OpMessage,
		Topic:   topic,
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := h.broker.Publish(ctx, topic, frame); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	h.metrics.Published(ctx)
	return nil
}

// Drop closes every subscription held by connID.
func (h *Hub) Drop(connID string) {
	h.mu.Lock()
	m, ok := h.conns[connID]
	delete(h.conns, connID)
	h.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range m.subs {
		sub.Close()
	}
	log.Info().Str("module", "app.hub").Str("conn", connID).Int("topics", len(m.subs)).Msg("dropped connection")
}
