package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/domain"
)

const memoryBuffer = 64

// Memory is a threadsafe in-process broker.
type Memory struct {
	mu     sync.RWMutex
	topics map[domain.Topic]map[*memorySub]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[domain.Topic]map[*memorySub]struct{})}
}

type memorySub struct {
	m     *Memory
	topic domain.Topic
	ch    chan Delivery
	once  sync.Once
}

func (s *memorySub) C() <-chan Delivery { return s.ch }

func (s *memorySub) Close() {
	s.once.Do(func() {
		s.m.mu.Lock()
		if subs, ok := s.m.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.m.topics, s.topic)
			}
		}
		s.m.mu.Unlock()
		close(s.ch)
	})
}

func (m *Memory) Subscribe(_ context.Context, topic domain.Topic) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{m: m, topic: topic, ch: make(chan Delivery, memoryBuffer)}
	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[*memorySub]struct{})
		m.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

// Publish copies payload to every subscriber of topic. A subscriber whose
// buffer is full misses the delivery.
func (m *Memory) Publish(_ context.Context, topic domain.Topic, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.topics[topic] {
		data := append([]byte(nil), payload...)
		select {
		case sub.ch <- Delivery{Topic: topic, Payload: data}:
		default:
			log.Warn().Str("module", "bus.memory").Str("topic", string(topic)).Msg("subscriber buffer full, dropping")
		}
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySub
	for _, subs := range m.topics {
		for s := range subs {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}
