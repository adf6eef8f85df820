package hub

import "errors"

var (
	// ErrProtocol marks a request on the connection path that is neither a
	// WebSocket upgrade nor a broadcast ingestion.
	ErrProtocol = errors.New("expected websocket")

	// ErrTransportGone is returned by Connection.Send when the transport is
	// already closed. The hub absorbs it during fan-out.
	ErrTransportGone = errors.New("transport gone")

	ErrHubNotRunning    = errors.New("hub is not running")
	ErrRouterNotRunning = errors.New("hub router is not running")
	ErrSessionRequired  = errors.New("session identifier is required")
	ErrConnectionExists = errors.New("connection already registered")
)
