package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Attachment is the small per-connection metadata set at accept time.
// It travels in serialized form next to the connection handle so it can be
// recovered without any in-memory map keyed by object identity.
type Attachment struct {
	VisitorID   string    `json:"visitorId,omitempty"`
	Admin       bool      `json:"admin,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Serialize encodes the attachment for storage alongside the connection.
func (a Attachment) Serialize() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("serialize attachment: %w", err)
	}
	return data, nil
}

// DeserializeAttachment restores an attachment written by Serialize.
func DeserializeAttachment(data []byte) (Attachment, error) {
	var a Attachment
	if len(data) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return Attachment{}, fmt.Errorf("deserialize attachment: %w", err)
	}
	return a, nil
}
