package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/matchcall/internal/adapters/media"
	"github.com/dkeye/matchcall/internal/adapters/signal"
	"github.com/dkeye/matchcall/internal/bus"
	"github.com/dkeye/matchcall/internal/core"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/protocol"
)

const waitFor = 2 * time.Second

type fakeStream struct {
	id   string
	live atomic.Bool
}

func (s *fakeStream) ID() string                  { return s.id }
func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }
func (s *fakeStream) Stop()                       { s.live.Store(false) }
func (s *fakeStream) Live() bool                  { return s.live.Load() }

type fakePlatform struct {
	mu      sync.Mutex
	gate    chan struct{}
	err     error
	streams []*fakeStream
}

func (p *fakePlatform) Capture(ctx context.Context) (core.LocalStream, error) {
	p.mu.Lock()
	gate, err := p.gate, p.err
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeStream{id: fmt.Sprintf("mic-%d", len(p.streams))}
	s.live.Store(true)
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakePlatform) captures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (p *fakePlatform) liveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.streams {
		if s.Live() {
			n++
		}
	}
	return n
}

type fakeLink struct {
	events core.PeerEvents

	mu         sync.Mutex
	attached   int
	offered    bool
	answered   bool
	remoteSet  bool
	held       bool
	closed     bool
	candidates []webrtc.ICECandidateInit
}

func (l *fakeLink) AttachLocalTracks(core.LocalStream) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached++
	return nil
}

func (l *fakeLink) SetSending(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = !on
}

func (l *fakeLink) sending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.held
}

func (l *fakeLink) CreateOfferAndSetLocal() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offered = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (l *fakeLink) CreateAnswerAndSetLocal(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSet, l.answered = true, true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (l *fakeLink) ApplyRemoteAnswer(webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSet = true
	return nil
}

func (l *fakeLink) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		return webrtc.ErrNoRemoteDescription
	}
	l.candidates = append(l.candidates, c)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) applied() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.candidates)
}

func (l *fakeLink) hasAnswered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.answered
}

type fakeFactory struct {
	mu    sync.Mutex
	links []*fakeLink
}

func (f *fakeFactory) NewPeerLink(events core.PeerEvents) (core.PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeLink{events: events}
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func (f *fakeFactory) last() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

func (f *fakeFactory) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.links {
		if !l.isClosed() {
			n++
		}
	}
	return n
}

type party struct {
	id       domain.UserID
	c        *Controller
	links    *fakeFactory
	platform *fakePlatform
}

func newParty(t *testing.T, broker bus.Broker, self, peer string, platform *fakePlatform) *party {
	t.Helper()
	if platform == nil {
		platform = &fakePlatform{}
	}
	who, err := domain.NewParticipants("m1", self, peer)
	require.NoError(t, err)

	links := &fakeFactory{}
	c, err := New(context.Background(), who, Deps{
		Signal: signal.NewBrokerChannel(broker),
		Media:  media.NewSession(platform),
		Links:  links,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return &party{id: who.Self, c: c, links: links, platform: platform}
}

func (p *party) waitPhase(t *testing.T, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return p.c.Status().Phase == want },
		waitFor, 5*time.Millisecond, "%s never reached %s (at %s)", p.id, want, p.c.Status().Phase)
}

// remoteTrack simulates the first inbound track on the party's current link.
func (p *party) remoteTrack(t *testing.T) {
	t.Helper()
	l := p.links.last()
	require.NotNil(t, l)
	l.events.OnRemoteTrack(&core.RemoteStream{StreamID: "remote", TrackID: "audio"})
}

// observer records everything published on the match topic.
type observer struct {
	mu   sync.Mutex
	msgs []protocol.Message
	ch   *signal.BrokerChannel
}

func newObserver(t *testing.T, broker bus.Broker) *observer {
	t.Helper()
	o := &observer{ch: signal.NewBrokerChannel(broker)}
	o.ch.OnMessage(func(m protocol.Message) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.msgs = append(o.msgs, m)
	})
	require.NoError(t, o.ch.Open(context.Background(), domain.TopicFor("m1")))
	t.Cleanup(o.ch.Close)
	return o
}

func (o *observer) count(kind protocol.Kind, from domain.UserID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.msgs {
		if m.Kind() == kind && m.Sender() == from {
			n++
		}
	}
	return n
}

func (o *observer) send(t *testing.T, m protocol.Message) {
	t.Helper()
	require.NoError(t, o.ch.Send(m))
}
