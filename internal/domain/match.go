package domain

import "fmt"

type (
	MatchID string
	Topic   string
)

// NewMatchID validates a relationship id coming from the match store.
func NewMatchID(raw string) (MatchID, error) {
	if err := validateID(raw); err != nil {
		return "", fmt.Errorf("match id: %w", err)
	}
	return MatchID(raw), nil
}

// TopicFor derives the bus topic both participants of a match converge on.
func TopicFor(id MatchID) Topic {
	return Topic("call:" + string(id))
}

// Participants is the (match, self, peer) triple a call session is created for.
type Participants struct {
	Match MatchID
	Self  UserID
	Peer  UserID
}

func NewParticipants(match, self, peer string) (Participants, error) {
	m, err := NewMatchID(match)
	if err != nil {
		return Participants{}, err
	}
	s, err := NewUserID(self)
	if err != nil {
		return Participants{}, fmt.Errorf("self id: %w", err)
	}
	p, err := NewUserID(peer)
	if err != nil {
		return Participants{}, fmt.Errorf("peer id: %w", err)
	}
	if s == p {
		return Participants{}, ErrSameParticipant
	}
	return Participants{Match: m, Self: s, Peer: p}, nil
}

func (p Participants) Topic() Topic { return TopicFor(p.Match) }
