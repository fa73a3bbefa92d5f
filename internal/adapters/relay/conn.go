// Package relay serves the bus protocol to WebSocket clients.
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/app"
	"github.com/dkeye/matchcall/internal/observe"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// pongWait is how long a connection may stay silent before it is dropped.
func (o Options) pongWait() time.Duration {
	return o.PingPeriod * 10 / 9
}

type BusWSController struct {
	hub     *app.Hub
	opts    Options
	limiter *RateLimiter
	metrics *observe.Metrics

	// clients counts live connections per rate-limit key. A client's window
	// survives reconnects while any of its connections is open.
	mu      sync.Mutex
	clients map[string]int
}

func NewBusWSController(hub *app.Hub, opts Options, metrics *observe.Metrics) *BusWSController {
	opts = opts.withDefaults()
	return &BusWSController{
		hub:     hub,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateInterval),
		metrics: metrics,
		clients: make(map[string]int),
	}
}

func (ctl *BusWSController) retain(key string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.clients[key]++
}

func (ctl *BusWSController) release(key string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.clients[key]--; ctl.clients[key] > 0 {
		return
	}
	delete(ctl.clients, key)
	ctl.limiter.Forget(key)
}

// WsBusConn is one client connection. It implements app.Sink.
type WsBusConn struct {
	id    string
	token string
	conn  *websocket.Conn
	send  chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsBusConn) ID() string { return c.id }

// limitKey is the client token from the cookie, or the connection id for
// clients that sent none.
func (c *WsBusConn) limitKey() string {
	if c.token != "" {
		return c.token
	}
	return c.id
}

func (c *WsBusConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsBusConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// ClientTokenKey is the gin context key holding the client token.
const ClientTokenKey = "client_token"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *BusWSController) HandleBus(ctx context.Context, c *gin.Context) {
	token := c.GetString(ClientTokenKey)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := &WsBusConn{
		id:    uuid.NewString(),
		token: token,
		conn:  ws,
		send:  make(chan []byte, ctl.opts.SendBuffer),
	}
	log.Info().Str("module", "relay").Str("conn", conn.id).Str("sid", token).Msg("new WS connection")
	ctl.metrics.ConnOpened(ctx)
	ctl.retain(conn.limitKey())

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
