package hub

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/infrastructure/metrics"
	"go-ama-realtime/internal/protocol"
)

const hubStopTimeout = 5 * time.Second

type RouterConfig struct {
	Hub Options

	// IdleEvictAfter releases a hub that has had no connections and no
	// traffic for this long. Zero disables eviction.
	IdleEvictAfter  time.Duration
	JanitorInterval time.Duration

	Store AttachmentStore
	Bus   Bus
	Clock clockwork.Clock
}

// Router maps session identifiers to hubs. A given identifier always
// resolves to the hub currently registered for it, creating one on first use.
type Router struct {
	cfg    RouterConfig
	logger logger.Logger

	mu    sync.RWMutex
	hubs  map[string]*Hub
	group singleflight.Group

	running   bool
	runningMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type SessionStats struct {
	SessionID   string    `json:"session_id"`
	Connections int       `json:"connections"`
	LastActive  time.Time `json:"last_active"`
}

type RouterStats struct {
	Hubs        int            `json:"hubs"`
	Connections int            `json:"connections"`
	Sessions    []SessionStats `json:"sessions"`
}

// Presence is one connection recorded in the attachment store.
type Presence struct {
	ConnectionID string `json:"connectionId"`
	protocol.Attachment
}

func NewRouter(cfg RouterConfig, log logger.Logger) *Router {
	cfg.Hub = cfg.Hub.withDefaults()
	if cfg.Store == nil {
		cfg.Store = NewMemoryAttachmentStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}

	return &Router{
		cfg:    cfg,
		logger: log.WithField("component", "hub_router"),
		hubs:   make(map[string]*Hub),
		done:   make(chan struct{}),
	}
}

func (r *Router) Start(ctx context.Context) error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if r.running {
		return fmt.Errorf("hub router is already running")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	go r.janitor()

	r.logger.Info("Hub router started")
	return nil
}

// Stop stops every hub, closing all of their connections.
func (r *Router) Stop(ctx context.Context) error {
	r.runningMu.Lock()
	if !r.running {
		r.runningMu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.runningMu.Unlock()

	<-r.done

	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for id, h := range r.hubs {
		hubs = append(hubs, h)
		delete(r.hubs, id)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hubs {
		g.Go(func() error {
			defer metrics.ActiveHubs.Dec()
			return h.Stop(gctx)
		})
	}
	err := g.Wait()

	r.logger.Infof("Hub router stopped (%d hubs released)", len(hubs))
	return err
}

func (r *Router) IsRunning() bool {
	r.runningMu.RLock()
	defer r.runningMu.RUnlock()
	return r.running
}

// Resolve returns the running hub for sessionID, creating and starting it if
// needed. Concurrent first calls share a single creation.
func (r *Router) Resolve(sessionID string) (*Hub, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	r.runningMu.RLock()
	running, parent := r.running, r.ctx
	r.runningMu.RUnlock()
	if !running {
		return nil, ErrRouterNotRunning
	}

	if h, ok := r.lookupAndTouch(sessionID); ok {
		return h, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		if h, ok := r.lookupAndTouch(sessionID); ok {
			return h, nil
		}

		h := New(sessionID, r.logger,
			WithOptions(r.cfg.Hub),
			WithAttachmentStore(r.cfg.Store),
			WithBus(r.cfg.Bus),
			WithClock(r.cfg.Clock),
		)
		if err := h.Start(parent); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.hubs[sessionID] = h
		r.mu.Unlock()

		metrics.ActiveHubs.Inc()
		r.logger.Debugf("Created hub for session %s", sessionID)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Hub), nil
}

// Forward passes an HTTP request through to the hub unchanged.
func (r *Router) Forward(h *Hub, w http.ResponseWriter, req *http.Request) {
	h.ServeHTTP(w, req)
}

// Broadcast resolves the session hub and ingests ev on it.
func (r *Router) Broadcast(ctx context.Context, sessionID string, ev protocol.Event, exclude string) error {
	h, err := r.Resolve(sessionID)
	if err != nil {
		return err
	}
	return h.Ingest(ctx, ev, exclude)
}

// Lookup returns the hub for sessionID without creating one.
func (r *Router) Lookup(sessionID string) (*Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hubs[sessionID]
	return h, ok
}

func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RouterStats{Sessions: make([]SessionStats, 0, len(r.hubs))}
	for id, h := range r.hubs {
		n := h.ConnectionCount()
		stats.Hubs++
		stats.Connections += n
		stats.Sessions = append(stats.Sessions, SessionStats{
			SessionID:   id,
			Connections: n,
			LastActive:  h.LastActive(),
		})
	}
	sort.Slice(stats.Sessions, func(i, j int) bool {
		return stats.Sessions[i].SessionID < stats.Sessions[j].SessionID
	})
	return stats
}

// Presence lists the connections recorded for sessionID in the attachment
// store, oldest first. With a shared store this spans every process.
func (r *Router) Presence(ctx context.Context, sessionID string) ([]Presence, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	raw, err := r.cfg.Store.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attachments for %s: %w", sessionID, err)
	}

	out := make([]Presence, 0, len(raw))
	for connID, data := range raw {
		att, err := protocol.DeserializeAttachment(data)
		if err != nil {
			r.logger.Warnf("Skipping corrupt attachment %s/%s: %v", sessionID, connID, err)
			continue
		}
		out = append(out, Presence{ConnectionID: connID, Attachment: att})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out, nil
}

// lookupAndTouch marks the hub active under the read lock so the janitor,
// which decides under the write lock, never evicts a hub just handed out.
func (r *Router) lookupAndTouch(sessionID string) (*Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hubs[sessionID]
	if !ok || !h.IsRunning() {
		return nil, false
	}
	h.touch()
	return h, true
}

func (r *Router) janitor() {
	defer close(r.done)

	if r.cfg.IdleEvictAfter <= 0 {
		<-r.ctx.Done()
		return
	}

	ticker := r.cfg.Clock.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.evictIdle()
		case <-r.ctx.Done():
			return
		}
	}
}

// evictIdle releases hubs with no connections that have been quiet for
// IdleEvictAfter. Such a hub holds no attachments of its own, since each was
// deleted when its connection left; a later Resolve starts a fresh hub.
func (r *Router) evictIdle() {
	r.mu.Lock()
	var idle []*Hub
	for id, h := range r.hubs {
		stopped := !h.IsRunning()
		quiet := h.ConnectionCount() == 0 && r.cfg.Clock.Since(h.LastActive()) >= r.cfg.IdleEvictAfter
		if stopped || quiet {
			idle = append(idle, h)
			delete(r.hubs, id)
		}
	}
	r.mu.Unlock()

	for _, h := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), hubStopTimeout)
		if err := h.Stop(ctx); err != nil {
			r.logger.Warnf("Failed to stop idle hub %s: %v", h.SessionID(), err)
		}
		cancel()
		metrics.ActiveHubs.Dec()
		metrics.HubEvictionsTotal.Inc()
		r.logger.Infof("Evicted idle hub for session %s", h.SessionID())
	}
}
