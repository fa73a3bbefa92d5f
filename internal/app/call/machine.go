package call

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/matchcall/internal/core"
	"github.com/dkeye/matchcall/internal/protocol"
)

func (c *Controller) handleAction(a action) (stop bool) {
	c.logger.Debug().Str("action", a.String()).Str("phase", c.phase.String()).Msg("action")
	switch a {
	case actCall:
		if c.phase != Idle {
			return false
		}
		c.teardown(false)
		c.lastError, c.endReason = "", EndNone
		c.setPhase(Ringing)
		c.acquire(forCall)

	case actAccept:
		if c.phase != IncomingOffered {
			return false
		}
		if c.link != nil {
			c.link.SetSending(true)
		}
		if held := c.heldRemote; held != nil {
			c.heldRemote = nil
			c.connected(held)
		} else {
			c.setPhase(Negotiating)
		}

	case actReject:
		if c.phase != IncomingOffered {
			return false
		}
		c.send(protocol.Busy{From: c.who.Self})
		c.teardown(false)
		c.endReason = EndRejected
		c.setPhase(Idle)

	case actHangup:
		c.hangup(EndLocalHangup, true)

	case actClose:
		close(c.stopping)
		c.hangup(EndLocalHangup, true)
		c.signal.Close()
		c.cancel()
		c.setPhase(Ended)
		c.logger.Info().Msg("call session closed")
		return true
	}
	return false
}

// hangup is the full cleanup path. notify sends hangup to the peer when a
// call attempt was in progress.
func (c *Controller) hangup(reason EndReason, notify bool) {
	active := c.phase != Idle && c.phase != Ended
	if active && notify {
		c.send(protocol.Hangup{From: c.who.Self})
	}
	c.teardown(true)
	if active {
		c.endReason = reason
		c.setPhase(Idle)
	}
}

// teardown closes the link and forgets the remote stream. A full teardown
// also releases the local stream; a light one keeps it warm for the next
// attempt.
func (c *Controller) teardown(full bool) {
	c.closeLink()
	c.remote, c.heldRemote = nil, nil
	c.pendingOffer = nil
	if c.acquiring {
		if full {
			c.abandoned[c.acquireGen] = struct{}{}
		}
		c.acquiring = false
		c.acquireGen++
	}
	if full {
		c.media.Release()
		c.local = nil
	}
}

func (c *Controller) closeLink() {
	if c.link == nil {
		return
	}
	c.linkGen++
	if err := c.link.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("link close")
	}
	c.link = nil
}

// acquire requests the microphone off the loop; the result comes back as a
// mediaResultEvent. A pending permission prompt cannot be cancelled, only
// its result ignored.
func (c *Controller) acquire(p purpose) {
	c.acquireGen++
	gen := c.acquireGen
	c.acquiring, c.acquireFor = true, p

	go func() {
		stream, err := c.media.GetLocalStream(c.ctx)
		if !c.enqueue(mediaResultEvent{gen: gen, stream: stream, err: err}) && err == nil {
			c.media.Release()
		}
	}()
}

func (c *Controller) handleMediaResult(e mediaResultEvent) {
	if _, ok := c.abandoned[e.gen]; ok {
		delete(c.abandoned, e.gen)
		if e.err == nil && !c.acquiring && c.local == nil {
			c.logger.Debug().Uint64("gen", e.gen).Msg("releasing stream of abandoned acquisition")
			c.media.Release()
		}
		return
	}
	if !c.acquiring || e.gen != c.acquireGen {
		c.logger.Debug().Uint64("gen", e.gen).Msg("stale media result")
		return
	}
	c.acquiring = false

	if e.err != nil {
		c.logger.Warn().Err(e.err).Msg("microphone acquisition failed")
		if c.acquireFor == forAnswer {
			c.send(protocol.Busy{From: c.who.Self})
		}
		c.fail(EndMediaError, e.err.Error(), false)
		return
	}
	c.local = e.stream

	switch c.acquireFor {
	case forCall:
		c.startOffer()
	case forAnswer:
		c.startAnswer()
	}
}

// fail ends the attempt with a user-visible error. The stream stays warm.
func (c *Controller) fail(reason EndReason, msg string, notify bool) {
	if notify {
		c.send(protocol.Hangup{From: c.who.Self})
	}
	c.teardown(false)
	c.lastError, c.endReason = msg, reason
	c.setPhase(Idle)
}

func (c *Controller) newLink() (core.PeerLink, error) {
	c.closeLink()
	c.linkGen++
	gen := c.linkGen
	link, err := c.links.NewPeerLink(core.PeerEvents{
		OnRemoteTrack: func(s *core.RemoteStream) {
			c.post(remoteTrackEvent{gen: gen, stream: s})
		},
		OnLocalCandidate: func(init webrtc.ICECandidateInit) {
			c.post(localCandidateEvent{gen: gen, cand: init})
		},
		OnTerminalState: func(s webrtc.PeerConnectionState) {
			c.post(terminalEvent{gen: gen, state: s})
		},
	})
	if err != nil {
		return nil, err
	}
	c.link = link
	return link, nil
}

func (c *Controller) startOffer() {
	if c.phase != Ringing {
		return
	}
	link, err := c.newLink()
	if err == nil {
		err = link.AttachLocalTracks(c.local)
	}
	var offer webrtc.SessionDescription
	if err == nil {
		offer, err = link.CreateOfferAndSetLocal()
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("offer setup failed")
		c.fail(EndFailed, fmt.Sprintf("call setup failed: %v", err), false)
		return
	}
	c.send(protocol.Offer{From: c.who.Self, SDP: offer})
}

func (c *Controller) startAnswer() {
	if c.pendingOffer == nil || (c.phase != IncomingOffered && c.phase != Negotiating) {
		return
	}
	offer := *c.pendingOffer
	c.pendingOffer = nil

	link, err := c.newLink()
	if err == nil {
		// The caller hears nothing until the user accepts.
		link.SetSending(c.phase == Negotiating)
		err = link.AttachLocalTracks(c.local)
	}
	var answer webrtc.SessionDescription
	if err == nil {
		answer, err = link.CreateAnswerAndSetLocal(offer)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("answer setup failed")
		c.fail(EndFailed, fmt.Sprintf("call setup failed: %v", err), true)
		return
	}
	c.send(protocol.Answer{From: c.who.Self, SDP: answer})
}

func (c *Controller) handleRemoteTrack(e remoteTrackEvent) {
	if e.gen != c.linkGen || c.link == nil {
		c.logger.Debug().Uint64("gen", e.gen).Msg("stale remote track")
		return
	}
	if c.remote != nil || c.heldRemote != nil {
		return
	}
	switch c.phase {
	case IncomingOffered:
		c.heldRemote = e.stream
	case Negotiating:
		c.connected(e.stream)
	}
}

func (c *Controller) connected(s *core.RemoteStream) {
	c.remote = s
	c.lastError = ""
	c.setPhase(Connected)
}

func (c *Controller) handleLocalCandidate(e localCandidateEvent) {
	if e.gen != c.linkGen || c.link == nil {
		return
	}
	c.send(protocol.Candidate{From: c.who.Self, Candidate: e.cand})
}

func (c *Controller) handleTerminal(e terminalEvent) {
	if e.gen != c.linkGen || c.link == nil {
		c.logger.Debug().Uint64("gen", e.gen).Str("state", e.state.String()).Msg("stale transport state")
		return
	}
	c.logger.Warn().Str("state", e.state.String()).Msg("transport lost")
	c.hangup(EndTransportLost, false)
}

func (c *Controller) handleInbound(m protocol.Message) {
	switch m.Sender() {
	case c.who.Self:
		return
	case c.who.Peer:
	default:
		c.logger.Debug().Str("from", string(m.Sender())).Msg("message from unexpected sender")
		return
	}
	if err := protocol.Dispatch(m, inbound{c}); err != nil {
		c.logger.Debug().Err(err).Msg("undispatchable message")
	}
}

// inbound keeps the protocol.Handler methods off the exported API.
type inbound struct{ c *Controller }

func (h inbound) HandleOffer(m protocol.Offer) {
	c := h.c
	switch c.phase {
	case Idle:
	case Ringing:
		if c.who.Self >= c.who.Peer {
			c.logger.Debug().Msg("glare: keeping own offer")
			return
		}
		c.logger.Info().Msg("glare: yielding to peer offer")
		c.teardown(false)
	default:
		c.logger.Debug().Str("phase", c.phase.String()).Msg("duplicate offer ignored")
		return
	}
	c.lastError, c.endReason = "", EndNone
	sdp := m.SDP
	c.pendingOffer = &sdp
	c.setPhase(IncomingOffered)
	c.acquire(forAnswer)
}

func (h inbound) HandleAnswer(m protocol.Answer) {
	c := h.c
	if c.phase != Ringing || c.link == nil {
		c.logger.Debug().Str("phase", c.phase.String()).Msg("answer ignored")
		return
	}
	if err := c.link.ApplyRemoteAnswer(m.SDP); err != nil {
		c.logger.Error().Err(err).Msg("apply answer failed")
		c.fail(EndFailed, fmt.Sprintf("call setup failed: %v", err), true)
		return
	}
	c.setPhase(Negotiating)
}

// HandleCandidate drops candidates that arrive before a link or a remote
// description exists. They are not buffered.
func (h inbound) HandleCandidate(m protocol.Candidate) {
	c := h.c
	if c.link == nil {
		c.logger.Debug().Msg("candidate dropped: no link")
		return
	}
	if err := c.link.AddRemoteCandidate(m.Candidate); err != nil {
		if errors.Is(err, webrtc.ErrNoRemoteDescription) {
			c.logger.Debug().Msg("candidate dropped: no remote description")
			return
		}
		c.logger.Debug().Err(err).Msg("candidate dropped")
	}
}

func (h inbound) HandleHangup(protocol.Hangup) {
	h.c.hangup(EndRemoteHangup, false)
}

func (h inbound) HandleBusy(protocol.Busy) {
	c := h.c
	switch c.phase {
	case Ringing, Negotiating:
		c.logger.Warn().Msg("peer busy")
		c.teardown(false)
		c.lastError, c.endReason = errPeerBusy, EndPeerBusy
		c.setPhase(Idle)
	}
}
