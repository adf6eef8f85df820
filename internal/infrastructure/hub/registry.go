package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/protocol"
)

const storeTimeout = 2 * time.Second

// entry wraps a connection handle together with its serialized attachment.
type entry struct {
	conn       Connection
	attachment []byte
}

// storeOp is one pending write to the attachment store. A nil data deletes.
type storeOp struct {
	connID string
	data   []byte
}

// Registry tracks the connections attached to one hub. It is never treated
// as a cache of what is alive: every enumeration re-checks the transport, so
// a connection that closed without running any cleanup is simply skipped.
type Registry struct {
	sessionID string
	store     AttachmentStore
	logger    logger.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	// store writes are applied in order by a single drainer goroutine so
	// that a slow store never holds up the hub loop
	storeMu      sync.Mutex
	storePending []storeOp
	storeBusy    bool
}

func NewRegistry(sessionID string, store AttachmentStore, log logger.Logger) *Registry {
	if store == nil {
		store = NewMemoryAttachmentStore()
	}
	return &Registry{
		sessionID: sessionID,
		store:     store,
		logger:    log.WithField("component", "registry"),
		entries:   make(map[string]*entry),
	}
}

// Add records conn with its attachment. The serialized attachment is kept
// next to the handle and mirrored into the attachment store asynchronously.
func (r *Registry) Add(conn Connection, attachment protocol.Attachment) error {
	data, err := attachment.Serialize()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.entries[conn.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionExists, conn.ID())
	}
	r.entries[conn.ID()] = &entry{conn: conn, attachment: data}
	r.order = append(r.order, conn.ID())
	r.mu.Unlock()

	r.enqueueStore(storeOp{connID: conn.ID(), data: data})
	return nil
}

// Remove drops a connection from the registry and the attachment store.
func (r *Registry) Remove(connID string) (Connection, bool) {
	r.mu.Lock()
	e, exists := r.entries[connID]
	if exists {
		delete(r.entries, connID)
		for i, id := range r.order {
			if id == connID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !exists {
		return nil, false
	}

	r.enqueueStore(storeOp{connID: connID})
	return e.conn, true
}

// Live returns the connections whose transport is still open, in
// acceptance order.
func (r *Registry) Live() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		if conn := r.entries[id].conn; !conn.IsClosed() {
			live = append(live, conn)
		}
	}
	return live
}

// Get returns a live connection by id.
func (r *Registry) Get(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[connID]
	if !ok || e.conn.IsClosed() {
		return nil, false
	}
	return e.conn, true
}

// Attachment decodes the metadata stored with a connection.
func (r *Registry) Attachment(connID string) (protocol.Attachment, bool) {
	r.mu.RLock()
	e, ok := r.entries[connID]
	r.mu.RUnlock()
	if !ok {
		return protocol.Attachment{}, false
	}

	a, err := protocol.DeserializeAttachment(e.attachment)
	if err != nil {
		r.logger.Warnf("Corrupt attachment for %s: %v", connID, err)
		return protocol.Attachment{}, false
	}
	return a, true
}

// Len counts live connections.
func (r *Registry) Len() int {
	return len(r.Live())
}

// PruneClosed removes entries whose transport has closed and returns them.
func (r *Registry) PruneClosed() []Connection {
	r.mu.RLock()
	var closed []string
	for _, id := range r.order {
		if r.entries[id].conn.IsClosed() {
			closed = append(closed, id)
		}
	}
	r.mu.RUnlock()

	pruned := make([]Connection, 0, len(closed))
	for _, id := range closed {
		if conn, ok := r.Remove(id); ok {
			pruned = append(pruned, conn)
		}
	}
	return pruned
}

// Drain removes and returns every entry.
func (r *Registry) Drain() []Connection {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	conns := make([]Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := r.Remove(id); ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (r *Registry) enqueueStore(op storeOp) {
	r.storeMu.Lock()
	r.storePending = append(r.storePending, op)
	if r.storeBusy {
		r.storeMu.Unlock()
		return
	}
	r.storeBusy = true
	r.storeMu.Unlock()

	go r.drainStore()
}

func (r *Registry) drainStore() {
	for {
		r.storeMu.Lock()
		if len(r.storePending) == 0 {
			r.storeBusy = false
			r.storeMu.Unlock()
			return
		}
		op := r.storePending[0]
		r.storePending = r.storePending[1:]
		r.storeMu.Unlock()

		r.applyStore(op)
	}
}

func (r *Registry) applyStore(op storeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if op.data == nil {
		if err := r.store.Delete(ctx, r.sessionID, op.connID); err != nil {
			r.logger.Warnf("Failed to delete attachment for %s: %v", op.connID, err)
		}
		return
	}
	if err := r.store.Save(ctx, r.sessionID, op.connID, op.data); err != nil {
		r.logger.Warnf("Failed to persist attachment for %s: %v", op.connID, err)
	}
}
