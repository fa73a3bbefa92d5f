package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/app"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/protocol"
)

const maxTopicLen = 128

func validTopic(t domain.Topic) bool {
	return t != "" && len(t) <= maxTopicLen
}

func (ctl *BusWSController) handlePing(c *WsBusConn) {
	ctl.sendJSON(c, protocol.Frame{Op: protocol.OpPong})
}

func (ctl *BusWSController) handleJoin(ctx context.Context, c *WsBusConn, f protocol.Frame) {
	if !validTopic(f.Topic) {
		ctl.reject(ctx, c, "bad_topic")
		return
	}
	if err := ctl.hub.Join(ctx, c, f.Topic); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("conn", c.id).Str("topic", string(f.Topic)).Msg("join failed")
		ctl.reject(ctx, c, "join_failed")
		return
	}
	ctl.sendJSON(c, protocol.Frame{Op: protocol.OpJoined, Topic: f.Topic})
}

func (ctl *BusWSController) handleLeave(c *WsBusConn, f protocol.Frame) {
	ctl.hub.Leave(c.id, f.Topic)
	ctl.sendJSON(c, protocol.Frame{Op: protocol.OpLeft, Topic: f.Topic})
}

func (ctl *BusWSController) handlePublish(ctx context.Context, c *WsBusConn, f protocol.Frame) {
	if !ctl.limiter.Allow(c.limitKey()) {
		log.Warn().Str("module", "relay").Str("conn", c.id).Str("sid", c.token).Str("topic", string(f.Topic)).Msg("rate limited")
		ctl.reject(ctx, c, "rate_limited")
		return
	}
	if len(f.Payload) == 0 {
		ctl.reject(ctx, c, "bad_payload")
		return
	}
	event := f.Event
	if event == "" {
		event = protocol.Event
	}

	err := ctl.hub.Publish(ctx, c.id, f.Topic, event, f.Payload)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNotJoined):
		ctl.reject(ctx, c, "not_joined")
	default:
		log.Error().Err(err).Str("module", "relay").Str("conn", c.id).Str("topic", string(f.Topic)).Msg("publish failed")
		ctl.reject(ctx, c, "publish_failed")
	}
}
