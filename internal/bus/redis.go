package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/domain"
)

// Redis fans topics out through Redis PUBLISH/SUBSCRIBE so several relay
// instances can serve the same match.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "matchcall:"}
}

func (r *Redis) channel(topic domain.Topic) string { return r.prefix + string(topic) }

func (r *Redis) Publish(ctx context.Context, topic domain.Topic, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

type redisSub struct {
	ps     *redis.PubSub
	ch     chan Delivery
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSub) C() <-chan Delivery { return s.ch }

func (s *redisSub) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.ps.Close()
	})
}

func (r *Redis) Subscribe(ctx context.Context, topic domain.Topic) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel(topic))
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{ps: ps, ch: make(chan Delivery, memoryBuffer), cancel: cancel}
	go sub.loop(subCtx, topic)
	return sub, nil
}

func (s *redisSub) loop(ctx context.Context, topic domain.Topic) {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Delivery{Topic: topic, Payload: []byte(msg.Payload)}:
			default:
				log.Warn().Str("module", "bus.redis").Str("topic", string(topic)).Msg("subscriber buffer full, dropping")
			}
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
