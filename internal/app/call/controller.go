// Package call implements the voice call state machine of one call screen.
//
// A Controller owns its PeerLink, the local stream through a MediaSession,
// and the signal channel of the match topic. Every input (user action,
// inbound message, transport callback, microphone result) becomes an event
// processed serially by a single goroutine, so handlers never run
// concurrently and never re-enter.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/core"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/observe"
	"github.com/dkeye/matchcall/internal/protocol"
)

const (
	eventBuffer = 64

	errPeerBusy = "peer is busy"
)

var errMissingDeps = errors.New("call: signal, media and links are required")

// Deps are the collaborators of a Controller. Metrics may be nil.
type Deps struct {
	Signal  core.SignalChannel
	Media   core.MediaSession
	Links   core.PeerLinkFactory
	Metrics *observe.Metrics
}

type purpose int

const (
	forCall purpose = iota
	forAnswer
)

type Controller struct {
	who     domain.Participants
	signal  core.SignalChannel
	media   core.MediaSession
	links   core.PeerLinkFactory
	metrics *observe.Metrics
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events    chan event
	stopping  chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	phase        Phase
	lastError    string
	endReason    EndReason
	link         core.PeerLink
	linkGen      uint64
	local        core.LocalStream
	remote       *core.RemoteStream
	pendingOffer *webrtc.SessionDescription
	acquiring    bool
	acquireGen   uint64
	acquireFor   purpose
	// abandoned holds acquisition generations cancelled by a full cleanup.
	abandoned map[uint64]struct{}
	// heldRemote is the peer's track that arrived before the user accepted.
	heldRemote *core.RemoteStream

	mu         sync.RWMutex
	status     Status
	localSnap  core.LocalStream
	remoteSnap *core.RemoteStream
	watchers   map[int]chan Status
	nextWatch  int
}

// New opens the match topic and starts the event loop. The controller must
// be closed with Close.
func New(ctx context.Context, who domain.Participants, deps Deps) (*Controller, error) {
	if deps.Signal == nil || deps.Media == nil || deps.Links == nil {
		return nil, errMissingDeps
	}
	if who.Self == who.Peer {
		return nil, domain.ErrSameParticipant
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		who:       who,
		signal:    deps.Signal,
		media:     deps.Media,
		links:     deps.Links,
		metrics:   deps.Metrics,
		logger:    log.With().Str("module", "call").Str("match", string(who.Match)).Str("self", string(who.Self)).Logger(),
		ctx:       loopCtx,
		cancel:    cancel,
		events:    make(chan event, eventBuffer),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		abandoned: make(map[uint64]struct{}),
		watchers:  make(map[int]chan Status),
		status:    statusOf(Idle, "", EndNone),
	}

	c.signal.OnMessage(func(m protocol.Message) { c.enqueue(inboundEvent{msg: m}) })
	if err := c.signal.Open(ctx, who.Topic()); err != nil {
		cancel()
		c.signal.Close()
		return nil, fmt.Errorf("open signal channel: %w", err)
	}

	go c.loop()
	c.logger.Info().Str("peer", string(who.Peer)).Str("topic", string(who.Topic())).Msg("call session ready")
	return c, nil
}

// enqueue blocks until the loop accepts ev or starts stopping.
func (c *Controller) enqueue(ev event) bool {
	select {
	case <-c.stopping:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.stopping:
		return false
	}
}

// post is enqueue for transport callbacks, which must never wait on the
// loop: the loop itself may be closing the link that is calling back.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	default:
		go c.enqueue(ev)
	}
}

func (c *Controller) do(a action) error {
	ev := actionEvent{act: a, done: make(chan struct{})}
	if !c.enqueue(ev) {
		return core.ErrClosed
	}
	select {
	case <-ev.done:
		return nil
	case <-c.done:
		return core.ErrClosed
	}
}

// Call places a call to the peer. A no-op unless idle.
func (c *Controller) Call() error { return c.do(actCall) }

// Accept takes an incoming call. The answer went out when the offer arrived
// but local audio stays held, and the peer's audio hidden, until Accept.
// A no-op unless an offer is pending.
func (c *Controller) Accept() error { return c.do(actAccept) }

// Reject declines an incoming call with busy at any point before Accept.
// The local stream stays warm.
func (c *Controller) Reject() error { return c.do(actReject) }

// Hangup ends the call from any state and releases every resource.
func (c *Controller) Hangup() error { return c.do(actHangup) }

// Close tears the session down for good: full cleanup, signal channel
// released, phase Ended. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { _ = c.do(actClose) })
	<-c.done
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LocalStream is the live microphone capture, nil when none is attached.
// Play it muted.
func (c *Controller) LocalStream() core.LocalStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localSnap
}

// RemoteStream is the peer's audio of the current connection, nil when none.
func (c *Controller) RemoteStream() *core.RemoteStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteSnap
}

// Watch streams status snapshots, starting with the current one. Slow
// readers only see the latest snapshot. The channel is closed when the
// controller ends or cancel is called.
func (c *Controller) Watch() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	c.mu.Lock()
	ch <- c.status
	if c.status.Phase == Ended {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for ev := range c.events {
		stop := c.handle(ev)
		c.publish()
		if a, ok := ev.(actionEvent); ok {
			close(a.done)
		}
		if stop {
			return
		}
	}
}

func (c *Controller) handle(ev event) (stop bool) {
	switch e := ev.(type) {
	case actionEvent:
		return c.handleAction(e.act)
	case inboundEvent:
		c.handleInbound(e.msg)
	case mediaResultEvent:
		c.handleMediaResult(e)
	case remoteTrackEvent:
		c.handleRemoteTrack(e)
	case localCandidateEvent:
		c.handleLocalCandidate(e)
	case terminalEvent:
		c.handleTerminal(e)
	}
	return false
}

// publish pushes the derived status and stream handles to readers.
func (c *Controller) publish() {
	st := statusOf(c.phase, c.lastError, c.endReason)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.localSnap, c.remoteSnap = c.local, c.remote
	if st == c.status {
		return
	}
	c.status = st
	for _, w := range c.watchers {
		select {
		case <-w:
		default:
		}
		w <- st
	}
	if st.Phase == Ended {
		for id, w := range c.watchers {
			close(w)
			delete(c.watchers, id)
		}
	}
}

func (c *Controller) setPhase(p Phase) {
	if p == c.phase {
		return
	}
	c.logger.Info().Str("from", c.phase.String()).Str("to", p.String()).Msg("phase")
	c.metrics.Transition(context.Background(), c.phase.String(), p.String())
	c.phase = p
}

func (c *Controller) send(m protocol.Message) {
	if err := c.signal.Send(m); err != nil {
		c.logger.Warn().Err(err).Str("type", string(m.Kind())).Msg("signal send failed")
	}
}
