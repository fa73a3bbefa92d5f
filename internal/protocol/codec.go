package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/matchcall/internal/domain"
)

var (
	ErrUnknownType = errors.New("unknown signaling message type")
	ErrNoSender    = errors.New("signaling message without sender")
)

// wireMessage is the JSON structure published on the topic.
type wireMessage struct {
	Type      Kind                       `json:"type"`
	From      domain.UserID              `json:"from"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Encode serializes msg into its wire form.
func Encode(msg Message) ([]byte, error) {
	w := wireMessage{From: msg.Sender()}
	switch m := msg.(type) {
	case Offer:
		w.Type, w.SDP = KindOffer, &m.SDP
	case Answer:
		w.Type, w.SDP = KindAnswer, &m.SDP
	case Candidate:
		w.Type, w.Candidate = KindCandidate, &m.Candidate
	case Hangup:
		w.Type = KindHangup
	case Busy:
		w.Type = KindBusy
	default:
		return nil, ErrUnknownType
	}
	return json.Marshal(w)
}

// Decode parses a wire payload back into a Message.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode signaling message: %w", err)
	}
	if w.From == "" {
		return nil, ErrNoSender
	}

	switch w.Type {
	case KindOffer, KindAnswer:
		if w.SDP == nil || w.SDP.SDP == "" {
			return nil, fmt.Errorf("%s without sdp", w.Type)
		}
		sdp := *w.SDP
		if w.Type == KindOffer {
			sdp.Type = webrtc.SDPTypeOffer
			return Offer{From: w.From, SDP: sdp}, nil
		}
		sdp.Type = webrtc.SDPTypeAnswer
		return Answer{From: w.From, SDP: sdp}, nil
	case KindCandidate:
		if w.Candidate == nil {
			return nil, fmt.Errorf("%s without candidate", w.Type)
		}
		return Candidate{From: w.From, Candidate: *w.Candidate}, nil
	case KindHangup:
		return Hangup{From: w.From}, nil
	case KindBusy:
		return Busy{From: w.From}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}
