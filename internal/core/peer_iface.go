package core

import "github.com/pion/webrtc/v4"

// PeerEvents are the callbacks a PeerLink reports through. Each may be
// invoked from transport goroutines.
type PeerEvents struct {
	// OnRemoteTrack fires for every inbound media track.
	OnRemoteTrack func(*RemoteStream)
	// OnLocalCandidate fires for every gathered local candidate; forward it
	// immediately.
	OnLocalCandidate func(webrtc.ICECandidateInit)
	// OnTerminalState fires once when the connection reaches disconnected,
	// failed or closed.
	OnTerminalState func(webrtc.PeerConnectionState)
}

// PeerLink is one direct peer connection.
type PeerLink interface {
	AttachLocalTracks(LocalStream) error
	// SetSending holds or resumes outbound media of the attached tracks.
	// Links start sending.
	SetSending(on bool)
	CreateOfferAndSetLocal() (webrtc.SessionDescription, error)
	CreateAnswerAndSetLocal(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyRemoteAnswer(answer webrtc.SessionDescription) error
	// AddRemoteCandidate fails when no remote description is set yet.
	AddRemoteCandidate(webrtc.ICECandidateInit) error
	// Close stops senders and closes the connection. Idempotent.
	Close() error
}

// PeerLinkFactory creates links configured with the deployment's ICE servers.
type PeerLinkFactory interface {
	NewPeerLink(events PeerEvents) (PeerLink, error)
}
