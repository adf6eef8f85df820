package hub

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-ama-realtime/internal/protocol"
)

const (
	expectedWebSocketBody = "Expected WebSocket"
	broadcastOKBody       = "OK"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browsers connect from the app origin; session access is checked upstream.
		return true
	},
}

// ServeHTTP is the hub's request surface. A POST whose path ends in
// /broadcast ingests a domain event; a WebSocket upgrade attaches a new
// connection; anything else is rejected with 400.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && path.Base(r.URL.Path) == "broadcast" {
		h.serveBroadcast(w, r)
		return
	}

	if err := ValidateUpgrade(r); err != nil {
		writeText(w, http.StatusBadRequest, expectedWebSocketBody)
		return
	}

	h.serveWebSocket(w, r)
}

// ValidateUpgrade returns ErrProtocol unless r asks for a WebSocket upgrade.
func ValidateUpgrade(r *http.Request) error {
	if !websocket.IsWebSocketUpgrade(r) {
		return ErrProtocol
	}
	return nil
}

// ServeSSE attaches a read-only event stream and blocks until it ends.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	conn := NewSSEConnection(r.Context(), "sse-"+uuid.NewString(), w, h.opts, h.logger)

	if err := h.Accept(conn, attachmentFromQuery(r)); err != nil {
		h.logger.Errorf("Failed to register SSE connection: %v", err)
		_ = conn.Close()
		writeText(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	conn.Serve()
	h.logger.Infof("SSE connection %s disconnected", conn.ID())
}

func (h *Hub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	conn := NewWebSocketConnection("ws-"+uuid.NewString(), ws, h, h.opts, h.logger)

	if err := h.Accept(conn, attachmentFromQuery(r)); err != nil {
		h.logger.Errorf("Failed to register WebSocket connection: %v", err)
		_ = conn.Close()
		return
	}

	// Keep the handler alive until the client disconnects
	<-conn.Context().Done()
	h.logger.Infof("WebSocket connection %s disconnected", conn.ID())
}

func (h *Hub) serveBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBroadcastBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "Event too large")
			return
		}
		writeText(w, http.StatusBadRequest, "Invalid event")
		return
	}

	ev, err := protocol.DecodeEvent(body)
	if err != nil {
		h.logger.Warnf("Rejecting broadcast: %v", err)
		writeText(w, http.StatusBadRequest, "Invalid event")
		return
	}

	if err := h.Ingest(r.Context(), ev, r.URL.Query().Get("exclude")); err != nil {
		h.logger.Warnf("Broadcast of %s failed: %v", ev.Type, err)
	}
	writeText(w, http.StatusOK, broadcastOKBody)
}

func attachmentFromQuery(r *http.Request) protocol.Attachment {
	q := r.URL.Query()
	admin, _ := strconv.ParseBool(q.Get("admin"))
	return protocol.Attachment{
		VisitorID: q.Get("visitorId"),
		Admin:     admin,
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
