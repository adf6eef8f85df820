package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errRefused = errors.New("connection refused")

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	case frame := <-c.frames:
		return websocket.TextMessage, frame, nil
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeDialer hands out queued connections; with an empty queue every dial
// fails.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []Conn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errRefused
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) Queue(conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conn)
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type statusRecorder struct {
	mu   sync.Mutex
	seen []bool
}

func (r *statusRecorder) record(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, connected)
}

func (r *statusRecorder) Seen() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.seen...)
}

func newTestChannel(t *testing.T, opts Options, dialer Dialer, clock clockwork.Clock) *Channel {
	t.Helper()
	c := New("ws://example.test/ws/abc12", opts, logger.NewNop(), WithDialer(dialer), WithClock(clock))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, waiters))
}

func TestOptions_ZeroFieldsTakeDefaults(t *testing.T) {
	opts := Options{ReconnectInterval: time.Second}.withDefaults()
	assert.Equal(t, time.Second, opts.ReconnectInterval)
	assert.Equal(t, 10, opts.MaxReconnectAttempts, "zero means the default, not disabled")
	assert.Equal(t, 30*time.Second, opts.HeartbeatInterval)

	assert.Equal(t, -1, Options{MaxReconnectAttempts: -1}.withDefaults().MaxReconnectAttempts)
}

func TestChannel_NegativeMaxReconnectAttemptsDisablesReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &fakeDialer{}
	status := &statusRecorder{}
	c := newTestChannel(t, Options{MaxReconnectAttempts: -1}, dialer, clock)

	require.NoError(t, c.Connect(status.record))
	require.Eventually(t, c.ReconnectFailed, waitFor, tick)
	require.Eventually(t, func() bool { return len(status.Seen()) == 2 }, waitFor, tick)
	assert.Equal(t, []bool{false, false}, status.Seen())

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return dialer.Dials() > 1 }, 50*time.Millisecond, tick)
}

func TestReconnectDelay(t *testing.T) {
	base := 3 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{4, 12 * time.Second},
		{5, 15 * time.Second},
		{6, 15 * time.Second},
		{10, 15 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReconnectDelay(base, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestReconnectDelay_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("delay is base times min(k, 5)", prop.ForAll(
		func(baseMs int, attempt int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			want := attempt
			if want > 5 {
				want = 5
			}
			return ReconnectDelay(base, attempt) == base*time.Duration(want)
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 100),
	))

	properties.Property("delay never decreases", prop.ForAll(
		func(baseMs int, attempt int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			return ReconnectDelay(base, attempt+1) >= ReconnectDelay(base, attempt)
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}

func TestChannel_BacksOffAndGivesUp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &fakeDialer{}
	status := &statusRecorder{}
	c := newTestChannel(t, Options{ReconnectInterval: time.Second, MaxReconnectAttempts: 3}, dialer, clock)

	require.NoError(t, c.Connect(status.record))

	for attempt := 1; attempt <= 3; attempt++ {
		require.Eventually(t, func() bool { return dialer.Dials() == attempt }, waitFor, tick)
		blockUntil(t, clock, 1)
		require.Eventually(t, func() bool { return len(status.Seen()) == attempt }, waitFor, tick)

		delay := ReconnectDelay(time.Second, attempt)
		clock.Advance(delay - time.Millisecond)
		assert.Never(t, func() bool { return dialer.Dials() > attempt }, 50*time.Millisecond, tick)
		clock.Advance(time.Millisecond)
	}

	require.Eventually(t, func() bool { return dialer.Dials() == 4 }, waitFor, tick)
	require.Eventually(t, c.ReconnectFailed, waitFor, tick)
	require.Eventually(t, func() bool { return len(status.Seen()) == 5 }, waitFor, tick)
	assert.Equal(t, []bool{false, false, false, false, false}, status.Seen(),
		"every failed dial reports false, and giving up reports false once more")

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return dialer.Dials() > 4 }, 50*time.Millisecond, tick)

	// An explicit Connect starts over.
	conn := newFakeConn()
	dialer.Queue(conn)
	require.NoError(t, c.Connect(status.record))
	require.Eventually(t, c.Connected, waitFor, tick)
	assert.False(t, c.ReconnectFailed())
	assert.Equal(t, []bool{false, false, false, false, false, true}, status.Seen())
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []Conn{first, second}}
	status := &statusRecorder{}
	c := newTestChannel(t, Options{ReconnectInterval: time.Second, MaxReconnectAttempts: 3}, dialer, clock)

	require.NoError(t, c.Connect(status.record))
	require.Eventually(t, c.Connected, waitFor, tick)

	_ = first.Close()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, waitFor, tick)
	require.Eventually(t, func() bool { return len(status.Seen()) == 2 }, waitFor, tick)

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)

	require.Eventually(t, c.Connected, waitFor, tick)
	assert.Equal(t, 2, dialer.Dials())
	assert.Equal(t, []bool{true, false, true}, status.Seen())
}

func TestChannel_DisconnectCancelsPendingReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &fakeDialer{}
	status := &statusRecorder{}
	c := newTestChannel(t, DefaultOptions(), dialer, clock)

	require.NoError(t, c.Connect(status.record))
	require.Eventually(t, func() bool { return dialer.Dials() == 1 }, waitFor, tick)
	blockUntil(t, clock, 1)

	require.NoError(t, c.Disconnect())
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return dialer.Dials() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, []bool{false}, status.Seen(), "only the failed dial is reported")
	assert.ErrorIs(t, c.Connect(status.record), ErrChannelClosed)
}

func TestChannel_DisconnectWhileOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []Conn{conn}}
	status := &statusRecorder{}
	c := newTestChannel(t, DefaultOptions(), dialer, clock)

	require.NoError(t, c.Connect(status.record))
	require.Eventually(t, c.Connected, waitFor, tick)

	require.NoError(t, c.Disconnect())
	assert.Eventually(t, func() bool { return len(status.Seen()) == 2 }, waitFor, tick)
	assert.Equal(t, []bool{true, false}, status.Seen())

	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return dialer.Dials() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestChannel_HeartbeatSendsPing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []Conn{conn}}
	c := newTestChannel(t, DefaultOptions(), dialer, clock)

	require.NoError(t, c.Connect(nil))
	require.Eventually(t, c.Connected, waitFor, tick)
	blockUntil(t, clock, 1)

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return len(conn.Written()) == 1 }, waitFor, tick)
	assert.Equal(t, `{"type":"ping"}`, string(conn.Written()[0]))
}

func TestChannel_DispatchSkipsControlAndMalformedFrames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []Conn{conn}}
	c := newTestChannel(t, DefaultOptions(), dialer, clock)

	var mu sync.Mutex
	var received []string
	c.On(protocol.EventVoteChanged, func(data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(data))
	})

	require.NoError(t, c.Connect(nil))
	require.Eventually(t, c.Connected, waitFor, tick)

	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(`{"type":"pong"}`)
	conn.frames <- []byte(`{"type":"vote_changed","data":{"questionId":"q1","voteCount":4}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, waitFor, tick)
	assert.JSONEq(t, `{"questionId":"q1","voteCount":4}`, received[0])
	assert.True(t, c.Connected(), "bad frames never tear down the connection")
}

func TestChannel_PanickingHandlerDoesNotStopReadLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []Conn{conn}}
	c := newTestChannel(t, DefaultOptions(), dialer, clock)

	received := make(chan string, 4)
	c.On(protocol.EventVoteChanged, func(json.RawMessage) { panic("handler bug") })
	c.On(protocol.EventVoteChanged, func(data json.RawMessage) { received <- string(data) })

	require.NoError(t, c.Connect(nil))
	require.Eventually(t, c.Connected, waitFor, tick)

	conn.frames <- []byte(`{"type":"vote_changed","data":{"questionId":"q1","voteCount":4}}`)
	conn.frames <- []byte(`{"type":"vote_changed","data":{"questionId":"q1","voteCount":5}}`)

	for _, want := range []string{`{"questionId":"q1","voteCount":4}`, `{"questionId":"q1","voteCount":5}`} {
		select {
		case got := <-received:
			assert.JSONEq(t, want, got)
		case <-time.After(waitFor):
			t.Fatal("later handler was not called")
		}
	}
	assert.True(t, c.Connected())
	assert.Equal(t, 1, dialer.Dials())
}

func TestChannel_OffRemovesOnlyThatHandler(t *testing.T) {
	c := New("ws://example.test/ws/abc12", DefaultOptions(), logger.NewNop())

	var calls []string
	first := c.On(protocol.EventVoteChanged, func(json.RawMessage) { calls = append(calls, "first") })
	c.On(protocol.EventVoteChanged, func(json.RawMessage) { calls = append(calls, "second") })

	frame := []byte(`{"type":"vote_changed","data":{}}`)
	c.dispatch(frame)
	assert.Equal(t, []string{"first", "second"}, calls)

	first.Unsubscribe()
	first.Unsubscribe()
	c.dispatch(frame)
	assert.Equal(t, []string{"first", "second", "second"}, calls)

	c.Off(nil)
}

func TestChannel_EndToEnd(t *testing.T) {
	router := hub.NewRouter(hub.RouterConfig{}, logger.NewNop())
	require.NoError(t, router.Start(context.Background()))
	defer router.Stop(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := router.Resolve("abc12")
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		router.Forward(h, w, r)
	}))
	defer srv.Close()

	url, err := SessionURL(srv.URL, "abc12", "v1", true)
	require.NoError(t, err)

	c := New(url, DefaultOptions(), logger.NewNop())
	defer c.Disconnect()

	type call struct {
		handler string
		data    string
	}
	calls := make(chan call, 8)
	c.On(protocol.EventVoteChanged, func(data json.RawMessage) { calls <- call{"a", string(data)} })
	second := c.On(protocol.EventVoteChanged, func(data json.RawMessage) { calls <- call{"b", string(data)} })
	c.On(protocol.EventQuestionAdded, func(data json.RawMessage) { calls <- call{"question", string(data)} })

	status := &statusRecorder{}
	require.NoError(t, c.Connect(status.record))
	require.Eventually(t, c.Connected, waitFor, tick)

	h, ok := router.Lookup("abc12")
	require.True(t, ok)
	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, waitFor, tick)

	ev, err := protocol.NewVoteChanged("q1", 4)
	require.NoError(t, err)
	require.NoError(t, router.Broadcast(context.Background(), "abc12", ev, ""))

	got := []call{<-calls, <-calls}
	assert.Equal(t, "a", got[0].handler)
	assert.Equal(t, "b", got[1].handler)
	for _, cl := range got {
		assert.JSONEq(t, `{"questionId":"q1","voteCount":4}`, cl.data)
	}

	second.Unsubscribe()
	require.NoError(t, router.Broadcast(context.Background(), "abc12", ev, ""))
	assert.Equal(t, "a", (<-calls).handler)

	select {
	case extra := <-calls:
		t.Fatalf("unexpected dispatch to %s", extra.handler)
	case <-time.After(50 * time.Millisecond):
	}

	var presence []hub.Presence
	require.Eventually(t, func() bool {
		presence, err = router.Presence(context.Background(), "abc12")
		return err == nil && len(presence) == 1
	}, waitFor, tick)
	assert.Equal(t, "v1", presence[0].VisitorID)
	assert.True(t, presence[0].Admin)

	require.NoError(t, c.Disconnect())
	require.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, waitFor, tick)
	assert.Equal(t, []bool{true, false}, status.Seen())
}

func TestSessionURL(t *testing.T) {
	url, err := SessionURL("http://localhost:8080", "abc 12", "v1", true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "ws://localhost:8080/ws/abc%2012?"), url)
	assert.Contains(t, url, "visitorId=v1")
	assert.Contains(t, url, "admin=true")

	url, err = SessionURL("wss://ama.example.com/", "abc12", "", false)
	require.NoError(t, err)
	assert.Equal(t, "wss://ama.example.com/ws/abc12", url)

	_, err = SessionURL("ws://localhost", "", "", false)
	assert.Error(t, err)
}
