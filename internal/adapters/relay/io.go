package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *BusWSController) writePump(ctx context.Context, c *WsBusConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "relay").Str("conn", c.id).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "relay").Str("conn", c.id).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "relay").Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("conn", c.id).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("conn", c.id).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *BusWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsBusConn) {
	defer func() {
		log.Info().Str("module", "relay").Str("conn", c.id).Msg("readPump closing")
		cancel()
		ctl.hub.Drop(c.id)
		ctl.release(c.limitKey())
		c.Close()
		ctl.metrics.ConnClosed(context.Background())
	}()

	pongWait := ctl.opts.pongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "relay").Str("conn", c.id).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "relay").Str("conn", c.id).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleFrame(ctx, c, data)
		}
	}
}

func (ctl *BusWSController) handleFrame(ctx context.Context, c *WsBusConn, data []byte) {
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("conn", c.id).Msg("bad json")
		ctl.reject(ctx, c, "bad_json")
		return
	}

	switch f.Op {
	case protocol.OpJoin:
		ctl.handleJoin(ctx, c, f)
	case protocol.OpLeave:
		ctl.handleLeave(c, f)
	case protocol.OpPublish:
		ctl.handlePublish(ctx, c, f)
	case protocol.OpPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "relay").Str("conn", c.id).Str("op", string(f.Op)).Msg("unknown op")
		ctl.reject(ctx, c, "unknown_op")
	}
}

func (ctl *BusWSController) sendJSON(c *WsBusConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		ctl.metrics.Dropped(context.Background())
	}
}

func (ctl *BusWSController) reject(ctx context.Context, c *WsBusConn, reason string) {
	ctl.metrics.Rejected(ctx, reason)
	ctl.sendJSON(c, protocol.ErrorFrame(reason))
}
