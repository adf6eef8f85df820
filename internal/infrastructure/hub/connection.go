package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"

	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/protocol"
)

const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"

	maxInboundFrameBytes = 64 << 10
)

// WebSocketConnection implements the Connection interface for WebSocket connections
type WebSocketConnection struct {
	id      string
	conn    *websocket.Conn
	handler FrameHandler

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex

	logger logger.Logger

	// Outbound frames, drained by writePump
	send chan []byte

	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingInterval time.Duration
}

// NewWebSocketConnection wraps an upgraded socket and starts its pumps. Text
// frames read from the client are passed to handler.
func NewWebSocketConnection(
	id string,
	conn *websocket.Conn,
	handler FrameHandler,
	opts Options,
	log logger.Logger,
) *WebSocketConnection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	wsConn := &WebSocketConnection{
		id:           id,
		conn:         conn,
		handler:      handler,
		ctx:          ctx,
		cancel:       cancel,
		logger:       log.WithField("connection_id", id),
		send:         make(chan []byte, opts.SendBufferSize),
		writeTimeout: opts.WriteTimeout,
		pongTimeout:  opts.PongTimeout,
		pingInterval: opts.PingInterval,
	}

	wsConn.setupWebSocket()

	go wsConn.writePump()
	go wsConn.readPump()

	return wsConn
}

func (c *WebSocketConnection) ID() string {
	return c.id
}

func (c *WebSocketConnection) Type() string {
	return TransportWebSocket
}

// Send queues frame without blocking. A client that cannot keep up with its
// buffer is disconnected.
func (c *WebSocketConnection) Send(_ context.Context, frame []byte) error {
	c.closedMu.RLock()
	if c.closed {
		c.closedMu.RUnlock()
		return ErrTransportGone
	}

	select {
	case c.send <- frame:
		c.closedMu.RUnlock()
		return nil
	default:
		c.closedMu.RUnlock()
	}

	c.logger.Warn("Send buffer full, closing slow connection")
	_ = c.Close()
	return fmt.Errorf("%w: send buffer full", ErrTransportGone)
}

// Close marks the connection closed. The write pump sends the close frame
// and releases the socket.
func (c *WebSocketConnection) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()
	close(c.send)

	c.logger.Debug("WebSocket connection closed")
	return nil
}

func (c *WebSocketConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *WebSocketConnection) Context() context.Context {
	return c.ctx
}

func (c *WebSocketConnection) setupWebSocket() {
	c.conn.SetReadLimit(maxInboundFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
}

// writePump is the only goroutine writing to the socket.
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		_ = c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))

			if !ok {
				_ = c.conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debugf("Failed to write frame: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debugf("Failed to send ping: %v", err)
				return
			}
		}
	}
}

func (c *WebSocketConnection) readPump() {
	defer func() {
		_ = c.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warnf("WebSocket error: %v", err)
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))

		switch messageType {
		case websocket.TextMessage:
			c.handler.HandleFrame(c, data)
		case websocket.BinaryMessage:
			c.logger.Debugf("Ignoring binary message of length %d", len(data))
		}
	}
}

// SSEConnection is a read-only subscriber fed over Server-Sent Events. It
// only ever receives domain events.
type SSEConnection struct {
	id     string
	writer http.ResponseWriter

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex

	logger logger.Logger

	send      chan []byte
	keepAlive time.Duration
}

// NewSSEConnection creates an SSE connection bound to the lifetime of ctx,
// normally the request context. Nothing is written until Serve runs.
func NewSSEConnection(
	ctx context.Context,
	id string,
	w http.ResponseWriter,
	opts Options,
	log logger.Logger,
) *SSEConnection {
	opts = opts.withDefaults()
	rctx, cancel := context.WithCancel(ctx)

	return &SSEConnection{
		id:        id,
		writer:    w,
		ctx:       rctx,
		cancel:    cancel,
		logger:    log.WithField("connection_id", id),
		send:      make(chan []byte, opts.SendBufferSize),
		keepAlive: opts.PingInterval,
	}
}

func (c *SSEConnection) ID() string {
	return c.id
}

func (c *SSEConnection) Type() string {
	return TransportSSE
}

func (c *SSEConnection) Send(_ context.Context, frame []byte) error {
	c.closedMu.RLock()
	if c.closed {
		c.closedMu.RUnlock()
		return ErrTransportGone
	}

	select {
	case c.send <- frame:
		c.closedMu.RUnlock()
		return nil
	default:
		c.closedMu.RUnlock()
	}

	c.logger.Warn("Send buffer full, closing slow stream")
	_ = c.Close()
	return fmt.Errorf("%w: send buffer full", ErrTransportGone)
}

func (c *SSEConnection) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()
	close(c.send)

	c.logger.Debug("SSE connection closed")
	return nil
}

func (c *SSEConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *SSEConnection) Context() context.Context {
	return c.ctx
}

// Serve streams queued events to the client until the connection closes or
// the request goes away. It must run on the request goroutine.
func (c *SSEConnection) Serve() {
	defer func() {
		_ = c.Close()
	}()

	c.setupSSEHeaders()
	c.writer.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(c.writer)
	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		c.logger.Debugf("Streaming unsupported: %v", err)
		return
	}

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := sse.Encode(c.writer, sse.Event{
				Event: eventName(frame),
				Data:  string(frame),
			}); err != nil {
				c.logger.Debugf("Failed to write event: %v", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			if _, err := io.WriteString(c.writer, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *SSEConnection) setupSSEHeaders() {
	c.writer.Header().Set("Content-Type", "text/event-stream")
	c.writer.Header().Set("Cache-Control", "no-cache")
	c.writer.Header().Set("Connection", "keep-alive")
	c.writer.Header().Set("X-Accel-Buffering", "no") // For nginx
}

// eventName uses the frame's tag as the SSE event field.
func eventName(frame []byte) string {
	in, err := protocol.ParseInbound(frame)
	if err != nil || in.Type == "" {
		return "message"
	}
	return in.Type
}
