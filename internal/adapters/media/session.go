// Package media owns the local microphone capture of a call session and the
// capture platforms it is acquired from.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/matchcall/internal/core"
)

// Session caches one live capture. Repeated calls return the same stream so
// the platform permission prompt is shown at most once per call screen.
type Session struct {
	platform core.MediaPlatform
	group    singleflight.Group

	mu     sync.Mutex
	stream core.LocalStream
}

func NewSession(platform core.MediaPlatform) *Session {
	return &Session{platform: platform}
}

func (s *Session) cached() core.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil && s.stream.Live() {
		return s.stream
	}
	return nil
}

// GetLocalStream returns the cached capture or acquires one. Concurrent
// callers share a single acquisition.
func (s *Session) GetLocalStream(ctx context.Context) (core.LocalStream, error) {
	if st := s.cached(); st != nil {
		return st, nil
	}
	v, err, _ := s.group.Do("local", func() (any, error) {
		if st := s.cached(); st != nil {
			return st, nil
		}
		st, err := s.platform.Capture(ctx)
		if err != nil {
			var mae *core.MediaAcquisitionError
			if errors.As(err, &mae) {
				return nil, err
			}
			return nil, &core.MediaAcquisitionError{Err: err}
		}
		s.mu.Lock()
		s.stream = st
		s.mu.Unlock()
		log.Info().Str("module", "media").Str("stream", st.ID()).Int("tracks", len(st.Tracks())).Msg("local stream acquired")
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.LocalStream), nil
}

// Release stops the cached stream, if any.
func (s *Session) Release() {
	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()
	if st == nil {
		return
	}
	st.Stop()
	log.Info().Str("module", "media").Str("stream", st.ID()).Msg("local stream released")
}
