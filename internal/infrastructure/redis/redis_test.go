package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/protocol"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(Options{Addr: mr.Addr(), KeyPrefix: "test"})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()))
	return client, mr
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pubsub message")
		return nil
	}
}

func TestBus_PublishSubscribeInOrder(t *testing.T) {
	client, _ := setupTestClient(t)
	bus := NewBus(client, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "abc12")
	require.NoError(t, err)

	for _, payload := range []string{"one", "two", "three"} {
		require.NoError(t, bus.Publish(context.Background(), "abc12", []byte(payload)))
	}

	assert.Equal(t, "one", string(receive(t, ch)))
	assert.Equal(t, "two", string(receive(t, ch)))
	assert.Equal(t, "three", string(receive(t, ch)))
}

func TestBus_SessionsAreIsolated(t *testing.T) {
	client, _ := setupTestClient(t)
	bus := NewBus(client, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	abc, err := bus.Subscribe(ctx, "abc12")
	require.NoError(t, err)
	xyz, err := bus.Subscribe(ctx, "xyz99")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "xyz99", []byte("for-xyz")))
	assert.Equal(t, "for-xyz", string(receive(t, xyz)))

	select {
	case payload := <-abc:
		t.Fatalf("unexpected payload on other session: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_SubscriptionEndsWithContext(t *testing.T) {
	client, _ := setupTestClient(t)
	bus := NewBus(client, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "abc12")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestBus_RoutersInSeparateProcessesShareSession(t *testing.T) {
	_, mr := setupTestClient(t)

	newProcess := func() *hub.Router {
		client := NewClient(Options{Addr: mr.Addr(), KeyPrefix: "test"})
		t.Cleanup(func() { _ = client.Close() })

		r := hub.NewRouter(hub.RouterConfig{
			Bus:   NewBus(client, logger.NewNop()),
			Store: NewAttachmentStore(client),
		}, logger.NewNop())
		require.NoError(t, r.Start(context.Background()))
		t.Cleanup(func() { _ = r.Stop(context.Background()) })
		return r
	}
	upgradeSide, triggerSide := newProcess(), newProcess()

	h, err := upgradeSide.Resolve("abc12")
	require.NoError(t, err)
	conn := newRecordingConn("A")
	require.NoError(t, h.Accept(conn, protocol.Attachment{VisitorID: "v1"}))

	ev, err := protocol.NewVoteChanged("q1", 4)
	require.NoError(t, err)
	require.NoError(t, triggerSide.Broadcast(context.Background(), "abc12", ev, ""))

	require.Eventually(t, func() bool { return len(conn.Frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"type":"vote_changed","data":{"questionId":"q1","voteCount":4}}`, string(conn.Frames()[0]))

	// Presence recorded by one process is visible from the other.
	var presence []hub.Presence
	require.Eventually(t, func() bool {
		presence, err = triggerSide.Presence(context.Background(), "abc12")
		return err == nil && len(presence) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "A", presence[0].ConnectionID)
	assert.Equal(t, "v1", presence[0].VisitorID)
}

func TestAttachmentStore_SaveListDelete(t *testing.T) {
	client, mr := setupTestClient(t)
	store := NewAttachmentStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc12", "conn-1", []byte(`{"visitorId":"v1"}`)))
	require.NoError(t, store.Save(ctx, "abc12", "conn-2", []byte(`{"visitorId":"v2"}`)))
	require.NoError(t, store.Save(ctx, "xyz99", "conn-3", []byte(`{}`)))

	listed, err := store.List(ctx, "abc12")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	assert.JSONEq(t, `{"visitorId":"v1"}`, string(listed["conn-1"]))
	assert.Greater(t, mr.TTL("test:conns:abc12"), time.Duration(0))

	require.NoError(t, store.Delete(ctx, "abc12", "conn-1"))
	listed, err = store.List(ctx, "abc12")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Contains(t, listed, "conn-2")

	empty, err := store.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionDirectory_Lifecycle(t *testing.T) {
	client, mr := setupTestClient(t)
	dir := NewSessionDirectory(client)
	ctx := context.Background()

	active, err := dir.SessionActive(ctx, "abc12")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, dir.Register(ctx, "abc12", time.Hour))
	active, err = dir.SessionActive(ctx, "abc12")
	require.NoError(t, err)
	assert.True(t, active)

	mr.FastForward(2 * time.Hour)
	active, err = dir.SessionActive(ctx, "abc12")
	require.NoError(t, err)
	assert.False(t, active, "expired sessions are not active")

	require.NoError(t, dir.Register(ctx, "xyz99", time.Hour))
	require.NoError(t, dir.Remove(ctx, "xyz99"))
	active, err = dir.SessionActive(ctx, "xyz99")
	require.NoError(t, err)
	assert.False(t, active)

	assert.Error(t, dir.Register(ctx, "bad", 0))
}

func TestSessionDirectory_KeyWrittenByDataLayer(t *testing.T) {
	client, mr := setupTestClient(t)
	dir := NewSessionDirectory(client)
	ctx := context.Background()

	require.NoError(t, dir.Register(ctx, "abc12", time.Hour))
	assert.True(t, mr.Exists("test:session:abc12"))
	assert.Equal(t, time.Hour, mr.TTL("test:session:abc12"))

	// Another service opens a session by writing the key directly.
	require.NoError(t, mr.Set("test:session:ext01", "1"))
	mr.SetTTL("test:session:ext01", time.Minute)
	active, err := dir.SessionActive(ctx, "ext01")
	require.NoError(t, err)
	assert.True(t, active)

	mr.Del("test:session:ext01")
	active, err = dir.SessionActive(ctx, "ext01")
	require.NoError(t, err)
	assert.False(t, active)
}

type recordingConn struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newRecordingConn(id string) *recordingConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &recordingConn{id: id, ctx: ctx, cancel: cancel}
}

func (c *recordingConn) ID() string               { return c.id }
func (c *recordingConn) Type() string             { return "test" }
func (c *recordingConn) Context() context.Context { return c.ctx }

func (c *recordingConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return hub.ErrTransportGone
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

func (c *recordingConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}
