package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownEventType = errors.New("unknown event type")
)

// EventType tags a domain event on the wire.
type EventType string

const (
	EventQuestionAdded   EventType = "question_added"
	EventQuestionUpdated EventType = "question_updated"
	EventVoteChanged     EventType = "vote_changed"
	EventAnswerAdded     EventType = "answer_added"
	EventAnswerUpdated   EventType = "answer_updated"
	EventReactionChanged EventType = "reaction_changed"
	EventSessionUpdated  EventType = "session_updated"
	EventSessionEnded    EventType = "session_ended"
)

// EventTypes lists every domain event tag in declaration order.
var EventTypes = []EventType{
	EventQuestionAdded,
	EventQuestionUpdated,
	EventVoteChanged,
	EventAnswerAdded,
	EventAnswerUpdated,
	EventReactionChanged,
	EventSessionUpdated,
	EventSessionEnded,
}

// IsValid reports whether t is one of the eight domain event tags.
func (t EventType) IsValid() bool {
	for _, valid := range EventTypes {
		if valid == t {
			return true
		}
	}
	return false
}

// ParseEventType converts a raw tag into an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// Event is a tagged domain notification. Data is kept as raw JSON so the
// fan-out path never has to understand the payload it forwards.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent builds an Event by marshalling data once.
func NewEvent(t EventType, data any) (Event, error) {
	if !t.IsValid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
	if data == nil {
		data = struct{}{}
	}
	raw, err := Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s data: %w", t, err)
	}
	return Event{Type: t, Data: raw}, nil
}

// Validate checks the tag and that Data holds a JSON value.
func (e Event) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return fmt.Errorf("%w: event data is not valid JSON", ErrMalformedFrame)
	}
	return nil
}

// Encode serializes the event to the single text frame sent to subscribers.
func (e Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	return Marshal(e)
}

// Marshal is json.Marshal without HTML escaping. Question text is user
// content and goes out with <, > and & as written.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeEvent parses and validates one domain event frame.
func DecodeEvent(frame []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(frame, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
