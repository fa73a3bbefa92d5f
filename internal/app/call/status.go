package call

// Phase is the single state of a call session. The UI booleans of Status
// are derived from it.
type Phase int

const (
	Idle Phase = iota
	Ringing
	IncomingOffered
	Negotiating
	Connected
	Ended
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Ringing:
		return "ringing"
	case IncomingOffered:
		return "incoming-offered"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// EndReason says how the last call attempt finished.
type EndReason string

const (
	EndNone          EndReason = ""
	EndLocalHangup   EndReason = "local-hangup"
	EndRemoteHangup  EndReason = "remote-hangup"
	EndTransportLost EndReason = "transport-lost"
	EndPeerBusy      EndReason = "peer-busy"
	EndRejected      EndReason = "rejected"
	EndMediaError    EndReason = "media-error"
	EndFailed        EndReason = "failed"
)

// Status is the snapshot handed to the call screen.
type Status struct {
	Phase     Phase
	Incoming  bool
	Ringing   bool
	Connected bool
	// Error is the last human-readable failure, empty when none.
	Error     string
	EndReason EndReason
}

func statusOf(p Phase, lastError string, reason EndReason) Status {
	return Status{
		Phase:     p,
		Incoming:  p == IncomingOffered,
		Ringing:   p == Ringing,
		Connected: p == Connected,
		Error:     lastError,
		EndReason: reason,
	}
}
