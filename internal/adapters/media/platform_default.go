//go:build !mic

package media

import "github.com/dkeye/matchcall/internal/core"

// DefaultPlatform is the silence source; build with -tags mic for a real
// microphone.
func DefaultPlatform() (core.MediaPlatform, error) {
	return SilencePlatform{}, nil
}
