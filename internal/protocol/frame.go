package protocol

import (
	"encoding/json"

	"github.com/dkeye/matchcall/internal/domain"
)

// Op is the relay frame operation.
type Op string

const (
	OpJoin    Op = "join"
	OpLeave   Op = "leave"
	OpPublish Op = "publish"
	OpPing    Op = "ping"

	OpMessage Op = "message"
	OpJoined  Op = "joined"
	OpLeft    Op = "left"
	OpPong    Op = "pong"
	OpError   Op = "error"
)

// Frame is one JSON text frame exchanged with the relay. Payload is opaque
// to the relay and carried through untouched.
type Frame struct {
	Op      Op              `json:"op"`
	Topic   domain.Topic    `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func ErrorFrame(reason string) Frame {
	return Frame{Op: OpError, Error: reason}
}
