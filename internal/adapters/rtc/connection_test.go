package rtc

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/matchcall/internal/adapters/media"
	"github.com/dkeye/matchcall/internal/core"
)

func newLink(t *testing.T, f *Factory) core.PeerLink {
	t.Helper()
	l, err := f.NewPeerLink(core.PeerEvents{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func hostCandidate() webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	f, err := NewFactory(Options{})
	require.NoError(t, err)
	caller, callee := newLink(t, f), newLink(t, f)

	mic, err := media.SilencePlatform{}.Capture(context.Background())
	require.NoError(t, err)
	defer mic.Stop()
	require.NoError(t, caller.AttachLocalTracks(mic))

	offer, err := caller.CreateOfferAndSetLocal()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.True(t, strings.Contains(offer.SDP, "m=audio"))

	answer, err := callee.CreateAnswerAndSetLocal(offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.True(t, strings.Contains(answer.SDP, "m=audio"))

	require.NoError(t, caller.ApplyRemoteAnswer(answer))
}

func TestOfferWithoutLocalTracksIsAudioReceiveCapable(t *testing.T) {
	f, err := NewFactory(Options{})
	require.NoError(t, err)

	offer, err := newLink(t, f).CreateOfferAndSetLocal()
	require.NoError(t, err)
	assert.True(t, strings.Contains(offer.SDP, "m=audio"))
	assert.True(t, strings.Contains(offer.SDP, "a=recvonly"))
}

func TestEarlyCandidateIsRefusedLateCandidateApplies(t *testing.T) {
	f, err := NewFactory(Options{})
	require.NoError(t, err)
	caller, callee := newLink(t, f), newLink(t, f)

	assert.ErrorIs(t, callee.AddRemoteCandidate(hostCandidate()), webrtc.ErrNoRemoteDescription)

	offer, err := caller.CreateOfferAndSetLocal()
	require.NoError(t, err)
	_, err = callee.CreateAnswerAndSetLocal(offer)
	require.NoError(t, err)

	assert.NoError(t, callee.AddRemoteCandidate(hostCandidate()))
}

func TestCloseIsIdempotent(t *testing.T) {
	f, err := NewFactory(Options{})
	require.NoError(t, err)
	l, err := f.NewPeerLink(core.PeerEvents{})
	require.NoError(t, err)

	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

type countingWriter struct{ n int }

func (w *countingWriter) WriteRTP(*rtp.Header, []byte) (int, error) {
	w.n++
	return 0, nil
}

func (w *countingWriter) Write([]byte) (int, error) {
	w.n++
	return 0, nil
}

func TestHeldWriterSwallowsPackets(t *testing.T) {
	var held atomic.Bool
	inner := &countingWriter{}
	w := heldWriter{w: inner, held: &held}

	held.Store(true)
	n, err := w.WriteRTP(&rtp.Header{Version: 2}, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Positive(t, n)
	_, err = w.Write([]byte{1})
	require.NoError(t, err)
	assert.Zero(t, inner.n)

	held.Store(false)
	_, _ = w.WriteRTP(&rtp.Header{Version: 2}, []byte{1})
	_, _ = w.Write([]byte{1})
	assert.Equal(t, 2, inner.n)
}

// gatheredDescription waits for ICE gathering so the description carries
// every host candidate and no trickle is needed.
func gatheredDescription(t *testing.T, l core.PeerLink) webrtc.SessionDescription {
	t.Helper()
	pc := l.(*PeerLink).pc
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-time.After(5 * time.Second):
		t.Fatal("ICE gathering did not complete")
	}
	return *pc.LocalDescription()
}

func TestHeldLinkSendsNoMediaUntilResumed(t *testing.T) {
	f, err := NewFactory(Options{IncludeLoopback: true})
	require.NoError(t, err)

	callerTracks := make(chan *core.RemoteStream, 1)
	calleeTracks := make(chan *core.RemoteStream, 1)
	caller, err := f.NewPeerLink(core.PeerEvents{OnRemoteTrack: func(s *core.RemoteStream) { callerTracks <- s }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = caller.Close() })
	callee, err := f.NewPeerLink(core.PeerEvents{OnRemoteTrack: func(s *core.RemoteStream) { calleeTracks <- s }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = callee.Close() })

	for _, l := range []core.PeerLink{caller, callee} {
		mic, err := media.SilencePlatform{}.Capture(context.Background())
		require.NoError(t, err)
		t.Cleanup(mic.Stop)
		if l == callee {
			l.SetSending(false)
		}
		require.NoError(t, l.AttachLocalTracks(mic))
	}

	_, err = caller.CreateOfferAndSetLocal()
	require.NoError(t, err)
	_, err = callee.CreateAnswerAndSetLocal(gatheredDescription(t, caller))
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteAnswer(gatheredDescription(t, callee)))

	select {
	case <-calleeTracks:
	case <-time.After(10 * time.Second):
		t.Fatal("callee never received the caller's audio")
	}
	select {
	case <-callerTracks:
		t.Fatal("held callee audio reached the caller")
	case <-time.After(time.Second):
	}

	callee.SetSending(true)
	select {
	case rs := <-callerTracks:
		assert.NotEmpty(t, rs.TrackID)
	case <-time.After(10 * time.Second):
		t.Fatal("caller never received audio after resume")
	}
}
