package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// heldTrack wraps a local track so its bindings write through a gate owned
// by the link. The wrapped track keeps its id, stream id and kind.
type heldTrack struct {
	webrtc.TrackLocal
	held *atomic.Bool
}

func (t *heldTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return t.TrackLocal.Bind(heldContext{TrackLocalContext: ctx, held: t.held})
}

func (t *heldTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	return t.TrackLocal.Unbind(heldContext{TrackLocalContext: ctx, held: t.held})
}

type heldContext struct {
	webrtc.TrackLocalContext
	held *atomic.Bool
}

func (c heldContext) WriteStream() webrtc.TrackLocalWriter {
	return heldWriter{w: c.TrackLocalContext.WriteStream(), held: c.held}
}

// heldWriter swallows packets while held. Writers see success so capture
// loops keep running.
type heldWriter struct {
	w    webrtc.TrackLocalWriter
	held *atomic.Bool
}

func (w heldWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if w.held.Load() {
		return header.MarshalSize() + len(payload), nil
	}
	return w.w.WriteRTP(header, payload)
}

func (w heldWriter) Write(b []byte) (int, error) {
	if w.held.Load() {
		return len(b), nil
	}
	return w.w.Write(b)
}
