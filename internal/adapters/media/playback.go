package media

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/core"
)

// PlaybackStats summarizes what a remote stream delivered.
type PlaybackStats struct {
	Packets int
	Bytes   int
}

// Play consumes a remote stream until it ends or ctx is done. There is no
// audio output device in this process, so playback is a counting sink.
func Play(ctx context.Context, rs *core.RemoteStream) PlaybackStats {
	var st PlaybackStats
	defer func() {
		log.Info().Str("module", "media").Str("stream", rs.StreamID).
			Int("packets", st.Packets).Int("bytes", st.Bytes).Msg("remote playback finished")
	}()
	for {
		select {
		case <-ctx.Done():
			return st
		case pkt, ok := <-rs.Packets:
			if !ok {
				return st
			}
			st.Packets++
			st.Bytes += len(pkt.Payload)
		}
	}
}
