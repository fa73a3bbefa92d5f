// Package rtc implements core.PeerLink on a pion PeerConnection.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/core"
)

const remotePacketBuffer = 128

// Options configures every link a Factory creates. ICEServers must hold at
// least one STUN server in production; relay (TURN) entries are passed
// through untouched.
type Options struct {
	ICEServers          []webrtc.ICEServer
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// IncludeLoopback gathers 127.0.0.1 host candidates, for single-host runs.
	IncludeLoopback bool
}

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// Factory owns the pion API (codecs, interceptors, ICE settings) shared by
// all links of a process.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.DisconnectedTimeout > 0 && opts.FailedTimeout > 0 {
		keepAlive := opts.KeepAliveInterval
		if keepAlive <= 0 {
			keepAlive = 2 * time.Second
		}
		se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, keepAlive)
	}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, cfg: webrtc.Configuration{ICEServers: opts.ICEServers}}, nil
}

// NewPeerLink creates a link and wires its callbacks to events.
func (f *Factory) NewPeerLink(events core.PeerEvents) (core.PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &PeerLink{pc: pc, id: uuid.NewString(), events: events, ctx: ctx, cancel: cancel}
	l.start()
	return l, nil
}

type PeerLink struct {
	pc     *webrtc.PeerConnection
	id     string
	events core.PeerEvents

	ctx    context.Context
	cancel context.CancelFunc

	// held mutes every attached local track without renegotiating.
	held atomic.Bool

	closeOnce    sync.Once
	closeErr     error
	terminalOnce sync.Once
}

func (l *PeerLink) start() {
	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("link", l.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("link", l.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateDisconnected ||
			s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			l.terminalOnce.Do(func() {
				if l.events.OnTerminalState != nil {
					l.events.OnTerminalState(s)
				}
			})
		}
	})

	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && l.events.OnLocalCandidate != nil {
			l.events.OnLocalCandidate(cand.ToJSON())
		}
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("link", l.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		packets := make(chan *rtp.Packet, remotePacketBuffer)
		go l.drain(track, packets)
		if l.events.OnRemoteTrack != nil {
			l.events.OnRemoteTrack(&core.RemoteStream{
				StreamID: track.StreamID(),
				TrackID:  track.ID(),
				Packets:  packets,
			})
		}
	})
}

// drain reads RTP from the remote track until it ends. Packets the playback
// sink is too slow for are dropped.
func (l *PeerLink) drain(track *webrtc.TrackRemote, out chan<- *rtp.Packet) {
	defer close(out)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("link", l.id).Msg("remote track ended")
			return
		}
		select {
		case out <- pkt:
		case <-l.ctx.Done():
			return
		default:
		}
	}
}

// AttachLocalTracks adds every track of stream for sending.
func (l *PeerLink) AttachLocalTracks(stream core.LocalStream) error {
	for _, t := range stream.Tracks() {
		sender, err := l.pc.AddTrack(&heldTrack{TrackLocal: t, held: &l.held})
		if err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
		go l.readRTCP(sender)
	}
	return nil
}

// SetSending resumes or holds outbound media. A held link stays negotiated
// and connected but writes no RTP.
func (l *PeerLink) SetSending(on bool) {
	if l.held.Swap(!on) != !on {
		log.Debug().Str("module", "webrtc").Str("link", l.id).Bool("sending", on).Msg("local tracks")
	}
}

// readRTCP keeps the interceptors fed; pion requires RTCP to be read.
func (l *PeerLink) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (l *PeerLink) ensureAudioTransceiver() error {
	for _, tr := range l.pc.GetTransceivers() {
		if tr.Kind() == webrtc.RTPCodecTypeAudio {
			return nil
		}
	}
	_, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (l *PeerLink) CreateOfferAndSetLocal() (webrtc.SessionDescription, error) {
	if err := l.ensureAudioTransceiver(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("audio transceiver: %w", err)
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (l *PeerLink) CreateAnswerAndSetLocal(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (l *PeerLink) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (l *PeerLink) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	if l.pc.RemoteDescription() == nil {
		return webrtc.ErrNoRemoteDescription
	}
	return l.pc.AddICECandidate(c)
}

// Close stops every sender and closes the connection. Only the first call
// does any work.
func (l *PeerLink) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		var errs []error
		for _, s := range l.pc.GetSenders() {
			if err := s.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		errs = append(errs, l.pc.Close())
		l.closeErr = errors.Join(errs...)
		if l.closeErr != nil {
			log.Error().Err(l.closeErr).Str("module", "webrtc").Str("link", l.id).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("link", l.id).Msg("closed")
		}
	})
	return l.closeErr
}
