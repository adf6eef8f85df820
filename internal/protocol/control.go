package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlType tags heartbeat frames. Control frames are never domain events.
type ControlType string

const (
	ControlPing ControlType = "ping"
	ControlPong ControlType = "pong"
)

// ControlMessage is the heartbeat frame exchanged between client and hub.
type ControlMessage struct {
	Type ControlType `json:"type"`
}

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

// PingFrame returns the encoded client heartbeat.
func PingFrame() []byte { return append([]byte(nil), pingFrame...) }

// PongFrame returns the encoded hub heartbeat acknowledgement.
func PongFrame() []byte { return append([]byte(nil), pongFrame...) }

// Inbound is the envelope used to peek at the tag of any frame before
// deciding whether it is a control message or a domain event.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseInbound decodes the tag and payload of a received frame.
func ParseInbound(frame []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return in, nil
}

// IsControl reports whether the frame tag is a heartbeat.
func (in Inbound) IsControl() bool {
	return in.Type == string(ControlPing) || in.Type == string(ControlPong)
}
