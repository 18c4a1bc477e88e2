package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/repository"
)

// Client is one live-subscription connection. C holds at most one pending
// snapshot: a slow client skips intermediate revisions and always receives
// the newest one.
type Client struct {
	ID   string
	C    chan repository.Snapshot
	done chan struct{}
}

// Done is closed when the hub drops the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub fans collection snapshots out to websocket clients, numbering them
// with a revision that grows by one per change.
type Hub struct {
	mu          sync.Mutex
	clients     map[string]*Client
	latest      repository.Snapshot
	stopped     bool
	unsubscribe func()
}

// NewHub subscribes a hub to repo. The repository delivers the current
// collection straight away, which becomes revision 1.
func NewHub(repo repository.Repository) *Hub {
	h := &Hub{clients: make(map[string]*Client)}
	h.unsubscribe = repo.Subscribe(h.publish)
	return h
}

// publish is the repository callback. It runs under the repository's write
// lock and never blocks.
func (h *Hub) publish(items []model.Item) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = repository.Snapshot{Revision: h.latest.Revision + 1, Items: items}
	metrics.Revision.Set(float64(h.latest.Revision))
	for _, c := range h.clients {
		offer(c, h.latest)
	}
}

// offer replaces whatever is pending for c with snap. Only publish and
// Register send, both under the hub lock, so the drain can't race a send.
func offer(c *Client, snap repository.Snapshot) {
	select {
	case <-c.C:
	default:
	}
	c.C <- snap
}

// Register adds a client and queues the current snapshot for it.
func (h *Hub) Register() *Client {
	c := &Client{
		ID:   uuid.NewString(),
		C:    make(chan repository.Snapshot, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(c.done)
		return c
	}
	h.clients[c.ID] = c
	metrics.Subscribers.Inc()
	if h.latest.Revision > 0 {
		offer(c, h.latest)
	}
	return c
}

// Unregister removes a client. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.done)
		metrics.Subscribers.Dec()
	}
}

// Revision returns the current revision.
func (h *Hub) Revision() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest.Revision
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop detaches from the repository and drops every client.
func (h *Hub) Stop() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.done)
		metrics.Subscribers.Dec()
	}
}
