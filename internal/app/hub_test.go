package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/matchcall/internal/bus"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/protocol"
)

type recordingSink struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (s *recordingSink) ID() string { return s.id }

func (s *recordingSink) TrySend(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return errors.New("full")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) received() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Frame, 0, len(s.frames))
	for _, b := range s.frames {
		var f protocol.Frame
		if err := json.Unmarshal(b, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

const topic = domain.Topic("call:m1")

func TestHubFansOutIncludingPublisher(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(bus.NewMemory(), nil)
	a, b := &recordingSink{id: "a"}, &recordingSink{id: "b"}

	require.NoError(t, hub.Join(ctx, a, topic))
	require.NoError(t, hub.Join(ctx, b, topic))
	require.NoError(t, hub.Publish(ctx, "a", topic, protocol.Event, json.RawMessage(`{"type":"hangup","from":"u1"}`)))

	for _, s := range []*recordingSink{a, b} {
		require.Eventually(t, func() bool { return len(s.received()) == 1 }, time.Second, 5*time.Millisecond)
		f := s.received()[0]
		assert.Equal(t, protocol.OpMessage, f.Op)
		assert.Equal(t, topic, f.Topic)
		assert.Equal(t, protocol.Event, f.Event)
		assert.JSONEq(t, `{"type":"hangup","from":"u1"}`, string(f.Payload))
	}
}

func TestHubRejectsPublishWithoutJoin(t *testing.T) {
	hub := NewHub(bus.NewMemory(), nil)
	err := hub.Publish(context.Background(), "stranger", topic, protocol.Event, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestHubJoinTwiceSubscribesOnce(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(bus.NewMemory(), nil)
	a := &recordingSink{id: "a"}

	require.NoError(t, hub.Join(ctx, a, topic))
	require.NoError(t, hub.Join(ctx, a, topic))
	require.NoError(t, hub.Publish(ctx, "a", topic, protocol.Event, json.RawMessage(`{}`)))

	require.Eventually(t, func() bool { return len(a.received()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, a.received(), 1)
}

func TestHubLeaveAndDrop(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(bus.NewMemory(), nil)
	a := &recordingSink{id: "a"}

	require.NoError(t, hub.Join(ctx, a, topic))
	assert.True(t, hub.Leave("a", topic))
	assert.False(t, hub.Leave("a", topic))
	assert.False(t, hub.Joined("a", topic))

	require.NoError(t, hub.Join(ctx, a, topic))
	hub.Drop("a")
	assert.False(t, hub.Joined("a", topic))
	hub.Drop("a")
}

func TestHubFullSinkDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(bus.NewMemory(), nil)
	slow, fast := &recordingSink{id: "slow", full: true}, &recordingSink{id: "fast"}

	require.NoError(t, hub.Join(ctx, slow, topic))
	require.NoError(t, hub.Join(ctx, fast, topic))
	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(ctx, "fast", topic, protocol.Event, json.RawMessage(`{}`)))
	}

	require.Eventually(t, func() bool { return len(fast.received()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, slow.received())
}
