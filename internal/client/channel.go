package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/protocol"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnectFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectFailed:
		return "reconnect_failed"
	default:
		return "disconnected"
	}
}

// Handler receives the data payload of a domain event.
type Handler func(data json.RawMessage)

// StatusFunc is told true when the channel opens and false when an open
// channel drops or reconnection gives up.
type StatusFunc func(connected bool)

// Subscription is one registered handler. Unsubscribe is idempotent.
type Subscription struct {
	channel   *Channel
	eventType protocol.EventType
	handler   Handler
}

func (s *Subscription) Unsubscribe() {
	s.channel.Off(s)
}

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

// Channel keeps one duplex connection to a session hub alive and dispatches
// received events to local handlers.
type Channel struct {
	url    string
	opts   Options
	dialer Dialer
	clock  clockwork.Clock
	logger logger.Logger

	mu             sync.Mutex
	state          State
	generation     uint64
	attempts       int
	closed         bool
	conn           Conn
	onStatus       StatusFunc
	reconnectTimer clockwork.Timer
	stopHeartbeat  chan struct{}
	cancelDial     context.CancelFunc

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[protocol.EventType][]*Subscription

	// status notifications are queued under mu and delivered in order
	// outside of it
	statusMu      sync.Mutex
	statusPending []bool
	statusBusy    bool
}

func New(url string, opts Options, log logger.Logger, options ...Option) *Channel {
	c := &Channel{
		url:      url,
		opts:     opts.withDefaults(),
		dialer:   WebSocketDialer{},
		clock:    clockwork.NewRealClock(),
		logger:   log.WithField("component", "client").WithField("url", url),
		handlers: make(map[protocol.EventType][]*Subscription),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect starts the connect cycle. It returns immediately; onStatus reports
// the outcome. Calling Connect while connecting or open only replaces the
// callback. After reconnection gave up, Connect starts over with a fresh
// attempt budget.
func (c *Channel) Connect(onStatus StatusFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	c.onStatus = onStatus
	if c.state == StateConnecting || c.state == StateOpen {
		return nil
	}

	c.attempts = 0
	c.startAttemptLocked()
	return nil
}

// Disconnect tears the channel down for good: the pending reconnect is
// cancelled, heartbeats stop and the transport is closed.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	wasOpen := c.state == StateOpen
	c.state = StateDisconnected
	c.stopTimersLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	if wasOpen {
		c.queueStatusLocked(false)
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.flushStatus()
	c.logger.Info("Channel disconnected")
	return err
}

// On registers handler for one event type. Handlers for the same type run
// in registration order.
func (c *Channel) On(eventType protocol.EventType, handler Handler) *Subscription {
	sub := &Subscription{channel: c, eventType: eventType, handler: handler}

	c.handlersMu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], sub)
	c.handlersMu.Unlock()

	return sub
}

// Off removes a previously registered handler.
func (c *Channel) Off(sub *Subscription) {
	if sub == nil {
		return
	}

	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	subs := c.handlers[sub.eventType]
	for i, s := range subs {
		if s == sub {
			kept := make([]*Subscription, 0, len(subs)-1)
			kept = append(kept, subs[:i]...)
			kept = append(kept, subs[i+1:]...)
			if len(kept) == 0 {
				delete(c.handlers, sub.eventType)
			} else {
				c.handlers[sub.eventType] = kept
			}
			return
		}
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Connected() bool {
	return c.State() == StateOpen
}

func (c *Channel) ReconnectFailed() bool {
	return c.State() == StateReconnectFailed
}

func (c *Channel) startAttemptLocked() {
	c.stopTimersLocked()
	c.generation++
	c.state = StateConnecting

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	c.cancelDial = cancel
	go c.dial(ctx, cancel, c.generation)
}

func (c *Channel) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	conn, err := c.dialer.Dial(ctx, c.url)
	cancel()

	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.logger.Warnf("Connect attempt %d failed: %v", c.attempts, err)
		c.state = StateDisconnected
		c.queueStatusLocked(false)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.flushStatus()
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	stop := make(chan struct{})
	c.stopHeartbeat = stop
	go c.heartbeat(conn, stop)
	c.queueStatusLocked(true)
	c.mu.Unlock()

	c.logger.Info("Channel connected")
	c.flushStatus()
	c.readLoop(conn, gen)
}

func (c *Channel) readLoop(conn Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Channel) handleClose(conn Conn, gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.logger.Infof("Connection closed: %v", cause)

	wasOpen := c.state == StateOpen
	c.stopTimersLocked()
	c.conn = nil
	c.state = StateDisconnected
	if wasOpen {
		c.queueStatusLocked(false)
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	_ = conn.Close()
	c.flushStatus()
}

// scheduleReconnectLocked arms the reconnect timer, or gives up once the
// attempt budget is spent.
func (c *Channel) scheduleReconnectLocked() {
	if c.attempts >= c.opts.MaxReconnectAttempts {
		if c.opts.MaxReconnectAttempts < 0 {
			c.logger.Warn("Reconnection disabled")
		} else {
			c.logger.Warnf("Max reconnect attempts (%d) reached", c.opts.MaxReconnectAttempts)
		}
		c.state = StateReconnectFailed
		c.queueStatusLocked(false)
		return
	}

	c.attempts++
	delay := ReconnectDelay(c.opts.ReconnectInterval, c.attempts)
	c.logger.Infof("Reconnecting in %s (attempt %d)", delay, c.attempts)

	gen := c.generation
	c.reconnectTimer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation || c.closed || c.state != StateDisconnected {
			return
		}
		c.reconnectTimer = nil
		c.startAttemptLocked()
	})
}

func (c *Channel) stopTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}

// heartbeat sends a ping every interval. A failed write is only logged; the
// read loop notices the dead transport.
func (c *Channel) heartbeat(conn Conn, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, protocol.PingFrame())
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debugf("Heartbeat failed: %v", err)
			}
		}
	}
}

func (c *Channel) dispatch(frame []byte) {
	in, err := protocol.ParseInbound(frame)
	if err != nil {
		c.logger.Warnf("Failed to parse frame: %v", err)
		return
	}
	if in.IsControl() {
		return
	}

	c.handlersMu.RLock()
	subs := c.handlers[protocol.EventType(in.Type)]
	c.handlersMu.RUnlock()

	for _, sub := range subs {
		c.invoke(in.Type, sub.handler, in.Data)
	}
}

// invoke runs one handler. A panicking handler is logged and skipped so the
// read loop and the remaining handlers keep going.
func (c *Channel) invoke(eventType string, handler Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("Handler for %s panicked: %v", eventType, r)
		}
	}()
	handler(data)
}

func (c *Channel) queueStatusLocked(connected bool) {
	if c.onStatus == nil {
		return
	}
	c.statusMu.Lock()
	c.statusPending = append(c.statusPending, connected)
	c.statusMu.Unlock()
}

// flushStatus delivers queued notifications. Only one goroutine delivers at
// a time, so callbacks observe transitions in the order they happened even
// when a callback re-enters the channel.
func (c *Channel) flushStatus() {
	c.statusMu.Lock()
	if c.statusBusy {
		c.statusMu.Unlock()
		return
	}
	c.statusBusy = true
	for len(c.statusPending) > 0 {
		connected := c.statusPending[0]
		c.statusPending = c.statusPending[1:]
		c.statusMu.Unlock()

		c.mu.Lock()
		onStatus := c.onStatus
		c.mu.Unlock()
		if onStatus != nil {
			onStatus(connected)
		}

		c.statusMu.Lock()
	}
	c.statusBusy = false
	c.statusMu.Unlock()
}
