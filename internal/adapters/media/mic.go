//go:build mic

package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/core"
)

var errNoAudioTrack = errors.New("no audio track in captured stream")

// MicPlatform captures the default microphone through pion/mediadevices
// (malgo driver) and encodes it with Opus.
type MicPlatform struct {
	selector *mediadevices.CodecSelector
}

func NewMicPlatform() (*MicPlatform, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &MicPlatform{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
	}, nil
}

// DefaultPlatform returns the microphone platform.
func DefaultPlatform() (core.MediaPlatform, error) {
	return NewMicPlatform()
}

func (p *MicPlatform) Capture(_ context.Context) (core.LocalStream, error) {
	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "media").Interface("kind", d.Kind).Str("label", d.Label).Msg("media device")
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
		Codec: p.selector,
	})
	if err != nil {
		return nil, &core.MediaAcquisitionError{Err: err}
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, &core.MediaAcquisitionError{Err: errNoAudioTrack}
	}

	ms := &micStream{tracks: tracks}
	ms.live = true
	for _, t := range tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("microphone track ended")
			}
		})
	}
	return ms, nil
}

type micStream struct {
	tracks []mediadevices.Track

	mu   sync.Mutex
	live bool
}

func (s *micStream) ID() string { return s.tracks[0].StreamID() }

func (s *micStream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *micStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *micStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}
	s.live = false
	for _, t := range s.tracks {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("close microphone track")
		}
	}
}
