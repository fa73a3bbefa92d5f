package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/matchcall/internal/core"
)

type fakeStream struct {
	id      string
	stopped atomic.Int32
}

func (f *fakeStream) ID() string                  { return f.id }
func (f *fakeStream) Tracks() []webrtc.TrackLocal { return nil }
func (f *fakeStream) Stop()                       { f.stopped.Add(1) }
func (f *fakeStream) Live() bool                  { return f.stopped.Load() == 0 }

type countingPlatform struct {
	captures atomic.Int32
	err      error
	gate     chan struct{}
}

func (p *countingPlatform) Capture(context.Context) (core.LocalStream, error) {
	if p.gate != nil {
		<-p.gate
	}
	n := p.captures.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &fakeStream{id: "s" + string(rune('0'+n))}, nil
}

func TestGetLocalStreamReusesCapture(t *testing.T) {
	p := &countingPlatform{}
	s := NewSession(p)

	first, err := s.GetLocalStream(context.Background())
	require.NoError(t, err)
	second, err := s.GetLocalStream(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, p.captures.Load())
}

func TestConcurrentAcquisitionSharesOnePrompt(t *testing.T) {
	p := &countingPlatform{gate: make(chan struct{})}
	s := NewSession(p)

	var wg sync.WaitGroup
	got := make([]core.LocalStream, 4)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = s.GetLocalStream(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.EqualValues(t, 1, p.captures.Load())
	for _, st := range got {
		assert.Same(t, got[0], st)
	}
}

func TestReleaseIsIdempotentAndForcesNewCapture(t *testing.T) {
	p := &countingPlatform{}
	s := NewSession(p)

	s.Release() // nothing acquired yet

	first, err := s.GetLocalStream(context.Background())
	require.NoError(t, err)
	s.Release()
	s.Release()

	fs := first.(*fakeStream)
	assert.EqualValues(t, 1, fs.stopped.Load())

	second, err := s.GetLocalStream(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, p.captures.Load())
}

func TestCaptureFailureIsMediaAcquisitionError(t *testing.T) {
	denied := errors.New("permission denied")
	s := NewSession(&countingPlatform{err: denied})

	_, err := s.GetLocalStream(context.Background())
	var mae *core.MediaAcquisitionError
	require.ErrorAs(t, err, &mae)
	assert.ErrorIs(t, err, denied)
}

func TestSilencePlatformStream(t *testing.T) {
	st, err := SilencePlatform{}.Capture(context.Background())
	require.NoError(t, err)

	require.Len(t, st.Tracks(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, st.Tracks()[0].Kind())
	assert.True(t, st.Live())

	st.Stop()
	st.Stop()
	assert.False(t, st.Live())
}

func TestPlayCountsUntilClosed(t *testing.T) {
	ch := make(chan *rtp.Packet, 3)
	ch <- &rtp.Packet{Payload: []byte{1, 2}}
	ch <- &rtp.Packet{Payload: []byte{3}}
	close(ch)

	st := Play(context.Background(), &core.RemoteStream{StreamID: "r", Packets: ch})
	assert.Equal(t, PlaybackStats{Packets: 2, Bytes: 3}, st)
}
