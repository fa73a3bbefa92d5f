package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/core"
)

const (
	opusPayloadType = 111
	opusClockRate   = 48000
	frameDuration   = 20 * time.Millisecond
	samplesPerFrame = opusClockRate / 1000 * 20
)

// opusSilence is a single Opus frame encoding 20 ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilencePlatform "captures" a microphone that only ever produces silence.
// Used where no capture device exists (servers, CI, the loopback demo).
type SilencePlatform struct{}

func (SilencePlatform) Capture(_ context.Context) (core.LocalStream, error) {
	streamID := "local-" + uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	s := &silenceStream{id: streamID, track: track, done: make(chan struct{})}
	s.live.Store(true)
	go s.pump()
	return s, nil
}

type silenceStream struct {
	id    string
	track *webrtc.TrackLocalStaticRTP
	done  chan struct{}
	once  sync.Once
	live  atomic.Bool
}

func (s *silenceStream) ID() string                  { return s.id }
func (s *silenceStream) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{s.track} }
func (s *silenceStream) Live() bool                  { return s.live.Load() }

func (s *silenceStream) Stop() {
	s.once.Do(func() {
		s.live.Store(false)
		close(s.done)
	})
}

// pump writes one silent frame per 20 ms until Stop. Writes on an unbound
// track are no-ops.
func (s *silenceStream) pump() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         seq == 0,
					PayloadType:    opusPayloadType,
					SequenceNumber: seq,
					Timestamp:      ts,
				},
				Payload: opusSilence,
			}
			if err := s.track.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("stream", s.id).Msg("silence write")
			}
			seq++
			ts += samplesPerFrame
		}
	}
}
