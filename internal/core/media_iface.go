package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("closed")

// LocalStream is a live microphone capture.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	// Stop ends every track. Safe to call more than once.
	Stop()
	Live() bool
}

// RemoteStream is the peer's audio as delivered by the transport. Packets
// is closed when the underlying track ends.
type RemoteStream struct {
	StreamID string
	TrackID  string
	Packets  <-chan *rtp.Packet
}

// MediaPlatform requests microphone-only capture from the device.
// Capture may block on a permission prompt; it cannot be cancelled once
// the prompt is showing.
type MediaPlatform interface {
	Capture(ctx context.Context) (LocalStream, error)
}

// MediaSession owns the single local stream of a call session.
type MediaSession interface {
	GetLocalStream(ctx context.Context) (LocalStream, error)
	Release()
}

// MediaAcquisitionError reports a denied or missing microphone.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }
