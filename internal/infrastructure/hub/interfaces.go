package hub

import (
	"context"
)

// Connection represents any type of connection (WebSocket, SSE, ...) owned by
// exactly one hub for its whole lifetime.
type Connection interface {
	ID() string
	Type() string
	// Send hands one encoded text frame to the transport without blocking.
	// It returns ErrTransportGone when the transport is closed or cannot keep up.
	Send(ctx context.Context, frame []byte) error
	Close() error
	IsClosed() bool
	// Context is cancelled once the transport is closed.
	Context() context.Context
}

// FrameHandler receives inbound text frames read from a connection.
type FrameHandler interface {
	HandleFrame(conn Connection, frame []byte)
}

// AttachmentStore keeps serialized per-connection metadata addressable by
// (session id, connection id), independent of any hub instance in memory.
type AttachmentStore interface {
	Save(ctx context.Context, sessionID, connID string, data []byte) error
	Delete(ctx context.Context, sessionID, connID string) error
	List(ctx context.Context, sessionID string) (map[string][]byte, error)
}

// Bus carries broadcast envelopes to every process hosting a hub for the
// same session. A subscription ends, and its channel closes, when ctx is
// cancelled.
type Bus interface {
	Publish(ctx context.Context, sessionID string, payload []byte) error
	Subscribe(ctx context.Context, sessionID string) (<-chan []byte, error)
}
