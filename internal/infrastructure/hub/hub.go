package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/infrastructure/metrics"
	"go-ama-realtime/internal/protocol"
)

const enqueueTimeout = 5 * time.Second

// Hub is the fan-out point for one session. Every mutation of its state runs
// on the run loop, so accept, broadcast and inbound frames are serialized.
type Hub struct {
	sessionID string
	opts      Options
	registry  *Registry
	bus       Bus
	clock     clockwork.Clock

	running   bool
	runningMu sync.RWMutex

	logger logger.Logger

	// Channels for internal communication
	register   chan *registration
	unregister chan string
	broadcast  chan *broadcastRequest
	frames     chan inboundFrame

	lastActive atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type registration struct {
	conn       Connection
	attachment protocol.Attachment
	result     chan error
}

type broadcastRequest struct {
	eventType protocol.EventType
	frame     []byte
	exclude   string
	delivered chan int
}

type inboundFrame struct {
	conn Connection
	data []byte
}

// envelope is what travels on the Bus between processes.
type envelope struct {
	Type    protocol.EventType `json:"type"`
	Exclude string             `json:"exclude,omitempty"`
	Frame   json.RawMessage    `json:"frame"`
}

type Option func(*Hub)

func WithOptions(opts Options) Option {
	return func(h *Hub) { h.opts = opts.withDefaults() }
}

// WithAttachmentStore mirrors connection attachments into store.
func WithAttachmentStore(store AttachmentStore) Option {
	return func(h *Hub) {
		if store != nil {
			h.registry.store = store
		}
	}
}

// WithBus routes ingested events through bus so every process holding a hub
// for the same session delivers them.
func WithBus(bus Bus) Option {
	return func(h *Hub) { h.bus = bus }
}

func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// New creates a Hub for sessionID. It must be started before use and cannot
// be restarted once stopped.
func New(sessionID string, log logger.Logger, opts ...Option) *Hub {
	hubLogger := log.WithFields(logger.Fields{
		"component":  "hub",
		"session_id": sessionID,
	})
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		sessionID:  sessionID,
		opts:       DefaultOptions(),
		registry:   NewRegistry(sessionID, nil, hubLogger),
		clock:      clockwork.NewRealClock(),
		logger:     hubLogger,
		register:   make(chan *registration, 100),
		unregister: make(chan string, 100),
		broadcast:  make(chan *broadcastRequest, 1000),
		frames:     make(chan inboundFrame, 1000),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.touch()
	return h
}

func (h *Hub) SessionID() string {
	return h.sessionID
}

// Start launches the run loop. Cancelling ctx stops the loop as well.
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return fmt.Errorf("hub %s is already running", h.sessionID)
	}
	if h.ctx.Err() != nil {
		return fmt.Errorf("%w: hub %s was stopped", ErrHubNotRunning, h.sessionID)
	}

	if h.bus != nil {
		events, err := h.bus.Subscribe(h.ctx, h.sessionID)
		if err != nil {
			return fmt.Errorf("subscribe session %s: %w", h.sessionID, err)
		}
		go h.consume(events)
	}

	context.AfterFunc(ctx, h.cancel)
	h.running = true

	go h.run()

	h.logger.Info("Hub started successfully")
	return nil
}

// Stop ends the run loop and closes every connection.
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return nil
	}

	h.cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		h.logger.Warn("Hub run loop did not exit before shutdown deadline")
	}

	for _, conn := range h.registry.Drain() {
		if err := conn.Close(); err != nil {
			h.logger.Errorf("Failed to close connection %s: %v", conn.ID(), err)
		}
		metrics.ConnectedClients.WithLabelValues(conn.Type()).Dec()
	}

	h.running = false
	h.logger.Info("Hub stopped successfully")
	return nil
}

// IsRunning returns true if the hub is currently running
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running && h.ctx.Err() == nil
}

// Accept attaches conn to the hub together with its metadata. The connection
// is removed automatically once its context is done.
func (h *Hub) Accept(conn Connection, attachment protocol.Attachment) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}
	if attachment.ConnectedAt.IsZero() {
		attachment.ConnectedAt = h.clock.Now()
	}

	req := &registration{conn: conn, attachment: attachment, result: make(chan error, 1)}

	select {
	case h.register <- req:
	case <-h.ctx.Done():
		return ErrHubNotRunning
	case <-time.After(enqueueTimeout):
		return fmt.Errorf("timeout registering connection %s", conn.ID())
	}

	select {
	case err := <-req.result:
		return err
	case <-h.ctx.Done():
		return ErrHubNotRunning
	}
}

// UnregisterConnection removes a connection from the hub
func (h *Hub) UnregisterConnection(connID string) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}

	select {
	case h.unregister <- connID:
		return nil
	case <-h.ctx.Done():
		return ErrHubNotRunning
	case <-time.After(enqueueTimeout):
		return fmt.Errorf("timeout unregistering connection %s", connID)
	}
}

// Broadcast hands ev to every live connection except exclude and returns how
// many connections accepted the frame. Connections that are already gone are
// skipped without error.
func (h *Hub) Broadcast(ctx context.Context, ev protocol.Event, exclude string) (int, error) {
	frame, err := ev.Encode()
	if err != nil {
		return 0, err
	}
	return h.deliver(ctx, ev.Type, frame, exclude)
}

// Ingest is the trigger-facing entry point. With a Bus configured the event
// is published so that every process serving this session delivers it;
// otherwise it is broadcast locally.
func (h *Hub) Ingest(ctx context.Context, ev protocol.Event, exclude string) error {
	frame, err := ev.Encode()
	if err != nil {
		return err
	}
	metrics.BroadcastsTotal.WithLabelValues(string(ev.Type)).Inc()

	if h.bus != nil {
		payload, err := protocol.Marshal(envelope{Type: ev.Type, Exclude: exclude, Frame: frame})
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
		err = h.bus.Publish(ctx, h.sessionID, payload)
		if err == nil {
			metrics.BusPublishedTotal.WithLabelValues("ok").Inc()
			return nil
		}
		metrics.BusPublishedTotal.WithLabelValues("error").Inc()
		h.logger.Warnf("Bus publish failed, delivering locally only: %v", err)
	}

	if _, err := h.deliver(ctx, ev.Type, frame, exclude); err != nil {
		h.logger.Warnf("Broadcast of %s not delivered: %v", ev.Type, err)
	}
	return nil
}

// HandleFrame queues a text frame received on conn for the run loop.
func (h *Hub) HandleFrame(conn Connection, frame []byte) {
	select {
	case h.frames <- inboundFrame{conn: conn, data: frame}:
	case <-h.ctx.Done():
	}
}

// Connections returns live connections in acceptance order.
func (h *Hub) Connections() []Connection {
	return h.registry.Live()
}

// GetConnection returns a connection by ID
func (h *Hub) GetConnection(connID string) (Connection, bool) {
	return h.registry.Get(connID)
}

// Attachment returns the metadata recorded when connID was accepted.
func (h *Hub) Attachment(connID string) (protocol.Attachment, bool) {
	return h.registry.Attachment(connID)
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	return h.registry.Len()
}

// LastActive reports the last accept, removal or broadcast on this hub.
func (h *Hub) LastActive() time.Time {
	return time.Unix(0, h.lastActive.Load())
}

func (h *Hub) touch() {
	h.lastActive.Store(h.clock.Now().UnixNano())
}

func (h *Hub) deliver(ctx context.Context, eventType protocol.EventType, frame []byte, exclude string) (int, error) {
	if !h.IsRunning() {
		return 0, ErrHubNotRunning
	}

	req := &broadcastRequest{
		eventType: eventType,
		frame:     frame,
		exclude:   exclude,
		delivered: make(chan int, 1),
	}

	select {
	case h.broadcast <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, ErrHubNotRunning
	case <-time.After(enqueueTimeout):
		return 0, fmt.Errorf("timeout broadcasting %s", eventType)
	}

	select {
	case n := <-req.delivered:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, ErrHubNotRunning
	}
}

// consume delivers envelopes arriving from the Bus in publish order.
func (h *Hub) consume(events <-chan []byte) {
	for payload := range events {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.logger.Warnf("Dropping malformed bus envelope: %v", err)
			continue
		}
		metrics.BusReceivedTotal.Inc()

		if _, err := h.deliver(h.ctx, env.Type, env.Frame, env.Exclude); err != nil {
			h.logger.Debugf("Bus event %s not delivered: %v", env.Type, err)
		}
	}
}

// run is the main hub loop that processes connection events
func (h *Hub) run() {
	ticker := h.clock.NewTicker(h.opts.CleanupInterval)
	defer func() {
		ticker.Stop()
		close(h.done)
	}()

	for {
		select {
		case req := <-h.register:
			h.handleRegister(req)

		case connID := <-h.unregister:
			h.handleUnregister(connID)

		case req := <-h.broadcast:
			h.handleBroadcast(req)

		case in := <-h.frames:
			h.handleFrame(in)

		case <-ticker.Chan():
			h.cleanupClosedConnections()

		case <-h.ctx.Done():
			h.logger.Info("Hub run loop stopped")
			return
		}
	}
}

func (h *Hub) handleRegister(req *registration) {
	conn := req.conn
	if err := h.registry.Add(conn, req.attachment); err != nil {
		req.result <- err
		return
	}
	req.result <- nil
	h.touch()
	metrics.ConnectedClients.WithLabelValues(conn.Type()).Inc()

	h.logger.Infof("Connection %s registered (type: %s, visitor: %q)",
		conn.ID(), conn.Type(), req.attachment.VisitorID)

	// Monitor connection context for disconnection
	go func() {
		select {
		case <-conn.Context().Done():
			_ = h.UnregisterConnection(conn.ID())
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) handleUnregister(connID string) {
	conn, exists := h.registry.Remove(connID)
	if !exists {
		return
	}
	_ = conn.Close()
	h.touch()
	metrics.ConnectedClients.WithLabelValues(conn.Type()).Dec()
	h.logger.Infof("Connection %s unregistered", connID)
}

func (h *Hub) handleBroadcast(req *broadcastRequest) {
	start := h.clock.Now()
	delivered := 0

	for _, conn := range h.registry.Live() {
		if conn.ID() == req.exclude {
			continue
		}
		if err := conn.Send(h.ctx, req.frame); err != nil {
			metrics.BroadcastSendFailuresTotal.Inc()
			h.logger.Debugf("Skipping connection %s: %v", conn.ID(), err)
			continue
		}
		delivered++
	}

	req.delivered <- delivered
	h.touch()
	metrics.BroadcastDeliveriesTotal.Add(float64(delivered))
	metrics.BroadcastDuration.Observe(h.clock.Since(start).Seconds())
	h.logger.Debugf("Broadcasted %s to %d connections", req.eventType, delivered)
}

// handleFrame answers heartbeats. Anything else a client sends is ignored.
func (h *Hub) handleFrame(in inboundFrame) {
	msg, err := protocol.ParseInbound(in.data)
	if err != nil {
		metrics.MalformedFramesTotal.Inc()
		h.logger.Debugf("Ignoring malformed frame from %s: %v", in.conn.ID(), err)
		return
	}

	if msg.Type != string(protocol.ControlPing) {
		return
	}
	if err := in.conn.Send(h.ctx, protocol.PongFrame()); err != nil {
		h.logger.Debugf("Failed to answer ping from %s: %v", in.conn.ID(), err)
		return
	}
	metrics.HeartbeatsTotal.Inc()
}

// cleanupClosedConnections removes connections that have been closed
func (h *Hub) cleanupClosedConnections() {
	for _, conn := range h.registry.PruneClosed() {
		metrics.ConnectedClients.WithLabelValues(conn.Type()).Dec()
		h.logger.Infof("Cleaned up closed connection %s", conn.ID())
	}
}
