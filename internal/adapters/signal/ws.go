package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/core"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/protocol"
)

var ErrBackpressure = errors.New("signal send queue full")

const writeWait = 5 * time.Second

type WSOptions struct {
	// URL of the relay bus endpoint, e.g. ws://host:8080/api/ws/bus.
	URL        string
	PingPeriod time.Duration
	SendBuffer int
	// JoinTimeout bounds the wait for the relay's join acknowledgment.
	JoinTimeout time.Duration
	Dialer      *websocket.Dialer
}

// WSChannel is a relay client over one WebSocket. A read pump delivers
// inbound messages, a write pump is the only writer of the connection.
type WSChannel struct {
	opts WSOptions

	mu      sync.RWMutex
	conn    *websocket.Conn
	topic   domain.Topic
	handler func(protocol.Message)
	send    chan []byte
	closed  bool
	cancel  context.CancelFunc

	joined  chan error
	readEnd chan struct{}
	writers sync.WaitGroup
}

func NewWSChannel(opts WSOptions) *WSChannel {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &WSChannel{opts: opts}
}

// Open dials the relay, joins topic and waits for the acknowledgment.
func (c *WSChannel) Open(ctx context.Context, topic domain.Topic) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.conn, c.topic, c.cancel = conn, topic, cancel
	c.send = make(chan []byte, c.opts.SendBuffer)
	c.joined = make(chan error, 1)
	c.readEnd = make(chan struct{})

	c.writers.Add(1)
	go c.writePump(pumpCtx, conn, topic, c.send)
	go c.readPump(conn, topic, c.joined, c.readEnd)
	c.mu.Unlock()

	if err := c.join(ctx, topic); err != nil {
		c.abort(conn)
		return err
	}
	log.Info().Str("module", "signal.ws").Str("topic", string(topic)).Str("url", c.opts.URL).Msg("channel open")
	return nil
}

func (c *WSChannel) join(ctx context.Context, topic domain.Topic) error {
	c.mu.RLock()
	joined, readEnd := c.joined, c.readEnd
	c.mu.RUnlock()

	frame, err := json.Marshal(protocol.Frame{Op: protocol.OpJoin, Topic: topic})
	if err != nil {
		return err
	}
	if err := c.trySend(frame); err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case err := <-joined:
		if err != nil {
			return fmt.Errorf("join %s: %w", topic, err)
		}
		return nil
	case <-readEnd:
		return fmt.Errorf("join %s: connection lost", topic)
	case <-timer.C:
		return fmt.Errorf("join %s: timed out", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abort undoes a failed Open so the channel can be opened again.
func (c *WSChannel) abort(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	cancel, readEnd := c.cancel, c.readEnd
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()

	cancel()
	c.writers.Wait()
	_ = conn.Close()
	<-readEnd
}

func (c *WSChannel) Send(msg protocol.Message) error {
	c.mu.RLock()
	topic, open := c.topic, c.conn != nil
	c.mu.RUnlock()
	if !open {
		return ErrNotOpen
	}
	frame, err := encodeFrame(protocol.OpPublish, topic, msg)
	if err != nil {
		return err
	}
	return c.trySend(frame)
}

func (c *WSChannel) trySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSChannel) OnMessage(h func(protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Close leaves the topic, closes the connection and waits for both pumps.
func (c *WSChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, cancel, readEnd := c.conn, c.cancel, c.readEnd
	c.mu.Unlock()

	if conn == nil {
		return
	}
	cancel()
	c.writers.Wait()
	_ = conn.Close()
	<-readEnd
	log.Info().Str("module", "signal.ws").Str("topic", string(c.topic)).Msg("channel closed")
}

func (c *WSChannel) writePump(ctx context.Context, conn *websocket.Conn, topic domain.Topic, send <-chan []byte) {
	defer c.writers.Done()
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	write := func(data []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			if err := drain(conn, send, deadline); err != nil {
				log.Debug().Err(err).Str("module", "signal.ws").Msg("writePump drain")
				return
			}
			if leave, err := json.Marshal(protocol.Frame{Op: protocol.OpLeave, Topic: topic}); err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, leave)
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case data := <-send:
			if err := write(data); err != nil {
				log.Error().Err(err).Str("module", "signal.ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			ping, _ := json.Marshal(protocol.Frame{Op: protocol.OpPing})
			if err := write(ping); err != nil {
				log.Error().Err(err).Str("module", "signal.ws").Msg("writePump ping error")
				return
			}
		}
	}
}

// drain flushes what was queued before Close, all within one deadline.
// Nothing is queued after Close, so the queue only shrinks.
func drain(conn *websocket.Conn, send <-chan []byte, deadline time.Time) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	for {
		select {
		case data := <-send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *WSChannel) readPump(conn *websocket.Conn, topic domain.Topic, joined chan<- error, end chan<- struct{}) {
	defer close(end)

	ack := func(err error) {
		select {
		case joined <- err:
		default:
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				log.Warn().Err(err).Str("module", "signal.ws").Str("topic", string(topic)).Msg("relay connection lost")
			}
			return
		}

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debug().Err(err).Str("module", "signal.ws").Msg("bad frame")
			continue
		}
		switch f.Op {
		case protocol.OpJoined:
			if f.Topic == topic {
				ack(nil)
			}
		case protocol.OpError:
			log.Warn().Str("module", "signal.ws").Str("topic", string(topic)).Str("error", f.Error).Msg("relay error")
			ack(errors.New(f.Error))
		case protocol.OpMessage:
			if f.Topic != topic {
				continue
			}
			msg, ok := decodeFrame(data)
			if !ok {
				continue
			}
			c.mu.RLock()
			h, closed := c.handler, c.closed
			c.mu.RUnlock()
			if h != nil && !closed {
				h(msg)
			}
		}
	}
}
