package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/matchcall/internal/adapters/media"
	"github.com/dkeye/matchcall/internal/adapters/rtc"
	"github.com/dkeye/matchcall/internal/adapters/signal"
	"github.com/dkeye/matchcall/internal/bus"
	"github.com/dkeye/matchcall/internal/domain"
)

// Controllers on real pion links and the silence source. ICE runs over
// host candidates only.

const liveWait = 15 * time.Second

func newLiveController(t *testing.T, broker bus.Broker, self, peer string) *Controller {
	t.Helper()
	who, err := domain.NewParticipants("m1", self, peer)
	require.NoError(t, err)
	links, err := rtc.NewFactory(rtc.Options{IncludeLoopback: true})
	require.NoError(t, err)

	c, err := New(context.Background(), who, Deps{
		Signal: signal.NewBrokerChannel(broker),
		Media:  media.NewSession(media.SilencePlatform{}),
		Links:  links,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func livePair(t *testing.T) (*Controller, *Controller) {
	t.Helper()
	if testing.Short() {
		t.Skip("real peer connections")
	}
	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })
	return newLiveController(t, broker, "u1", "u2"), newLiveController(t, broker, "u2", "u1")
}

func waitLive(t *testing.T, c *Controller, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status().Phase == want },
		liveWait, 10*time.Millisecond, "never reached %s (at %s)", want, c.Status().Phase)
}

func TestLiveCalleeWaitsForAccept(t *testing.T) {
	u1, u2 := livePair(t)

	require.NoError(t, u1.Call())
	waitLive(t, u2, IncomingOffered)
	waitLive(t, u1, Negotiating)

	// Long enough for ICE and DTLS on loopback and for the caller's audio
	// to reach the callee.
	time.Sleep(2 * time.Second)
	assert.Equal(t, IncomingOffered, u2.Status().Phase)
	assert.True(t, u2.Status().Incoming)
	assert.Nil(t, u2.RemoteStream())
	assert.Equal(t, Negotiating, u1.Status().Phase, "callee audio must not flow before accept")

	require.NoError(t, u2.Accept())
	waitLive(t, u2, Connected)
	waitLive(t, u1, Connected)

	rs := u1.RemoteStream()
	require.NotNil(t, rs)
	select {
	case pkt, ok := <-rs.Packets:
		require.True(t, ok)
		assert.NotEmpty(t, pkt.Payload)
	case <-time.After(liveWait):
		t.Fatal("no audio from the callee")
	}
}

func TestLiveRejectAfterDelay(t *testing.T) {
	u1, u2 := livePair(t)

	require.NoError(t, u1.Call())
	waitLive(t, u2, IncomingOffered)
	time.Sleep(2 * time.Second)

	require.NoError(t, u2.Reject())
	st := u2.Status()
	assert.Equal(t, Idle, st.Phase)
	assert.Equal(t, EndRejected, st.EndReason)
	assert.Nil(t, u2.RemoteStream())

	waitLive(t, u1, Idle)
	st = u1.Status()
	assert.Equal(t, EndPeerBusy, st.EndReason)
	assert.Equal(t, errPeerBusy, st.Error)
	assert.Nil(t, u1.RemoteStream())
}
