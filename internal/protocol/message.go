// Package protocol defines the signaling messages exchanged on a call topic.
//
// Message is a closed union: only the types in this file implement it, and
// Dispatch forces handlers for every kind.
package protocol

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/matchcall/internal/domain"
)

// Kind identifies the kind of signaling message on the wire.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "ice-candidate"
	KindHangup    Kind = "hangup"
	KindBusy      Kind = "busy"
)

// Event is the bus event name signaling messages are published under.
const Event = "signal"

type Message interface {
	Kind() Kind
	Sender() domain.UserID
	sealed()
}

type Offer struct {
	From domain.UserID
	SDP  webrtc.SessionDescription
}

type Answer struct {
	From domain.UserID
	SDP  webrtc.SessionDescription
}

type Candidate struct {
	From      domain.UserID
	Candidate webrtc.ICECandidateInit
}

type Hangup struct {
	From domain.UserID
}

type Busy struct {
	From domain.UserID
}

func (Offer) Kind() Kind     { return KindOffer }
func (Answer) Kind() Kind    { return KindAnswer }
func (Candidate) Kind() Kind { return KindCandidate }
func (Hangup) Kind() Kind    { return KindHangup }
func (Busy) Kind() Kind      { return KindBusy }

func (m Offer) Sender() domain.UserID     { return m.From }
func (m Answer) Sender() domain.UserID    { return m.From }
func (m Candidate) Sender() domain.UserID { return m.From }
func (m Hangup) Sender() domain.UserID    { return m.From }
func (m Busy) Sender() domain.UserID      { return m.From }

func (Offer) sealed()     {}
func (Answer) sealed()    {}
func (Candidate) sealed() {}
func (Hangup) sealed()    {}
func (Busy) sealed()      {}

// Handler has one method per message kind.
type Handler interface {
	HandleOffer(Offer)
	HandleAnswer(Answer)
	HandleCandidate(Candidate)
	HandleHangup(Hangup)
	HandleBusy(Busy)
}

// Dispatch routes msg to the matching Handler method. It returns
// ErrUnknownType for values outside the union (only nil can reach that).
func Dispatch(msg Message, h Handler) error {
	switch m := msg.(type) {
	case Offer:
		h.HandleOffer(m)
	case Answer:
		h.HandleAnswer(m)
	case Candidate:
		h.HandleCandidate(m)
	case Hangup:
		h.HandleHangup(m)
	case Busy:
		h.HandleBusy(m)
	default:
		return ErrUnknownType
	}
	return nil
}
