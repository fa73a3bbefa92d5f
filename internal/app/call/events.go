package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/matchcall/internal/core"
	"github.com/dkeye/matchcall/internal/protocol"
)

// event is everything the loop consumes.
type event interface{ isEvent() }

type action int

const (
	actCall action = iota
	actAccept
	actReject
	actHangup
	actClose
)

func (a action) String() string {
	switch a {
	case actCall:
		return "call"
	case actAccept:
		return "accept"
	case actReject:
		return "reject"
	case actHangup:
		return "hangup"
	case actClose:
		return "close"
	default:
		return "unknown"
	}
}

type actionEvent struct {
	act  action
	done chan struct{}
}

type inboundEvent struct {
	msg protocol.Message
}

// Link events carry the generation of the link that produced them.

type remoteTrackEvent struct {
	gen    uint64
	stream *core.RemoteStream
}

type localCandidateEvent struct {
	gen  uint64
	cand webrtc.ICECandidateInit
}

type terminalEvent struct {
	gen   uint64
	state webrtc.PeerConnectionState
}

// mediaResultEvent reports a finished microphone acquisition.
type mediaResultEvent struct {
	gen    uint64
	stream core.LocalStream
	err    error
}

func (actionEvent) isEvent()         {}
func (inboundEvent) isEvent()        {}
func (remoteTrackEvent) isEvent()    {}
func (localCandidateEvent) isEvent() {}
func (terminalEvent) isEvent()       {}
func (mediaResultEvent) isEvent()    {}
