// Package hub fans frames received from the controller out to every
// connected TCP client.
package hub

import (
	"fmt"
	"sync"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// Policy decides what happens to a client whose queue is full.
type Policy int

const (
	// PolicyDrop discards the frame for that client only.
	PolicyDrop Policy = iota
	// PolicyKick closes the client.
	PolicyKick
)

func (p Policy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// ParsePolicy accepts "drop" or "kick".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop":
		return PolicyDrop, nil
	case "kick":
		return PolicyKick, nil
	}
	return PolicyDrop, fmt.Errorf("unknown backpressure policy %q", s)
}

// Client is one subscriber. Out is drained by the client's writer; Closed
// is closed once when the client must go away.
type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient makes a client with an outbound queue of depth frames.
func NewClient(depth int) *Client {
	if depth < 1 {
		depth = 1
	}
	return &Client{Out: make(chan can.Frame, depth), Closed: make(chan struct{})}
}

// Close is idempotent.
func (c *Client) Close() { c.closeOnce.Do(func() { close(c.Closed) }) }

// Hub is safe for concurrent use.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     Policy
}

func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers c.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(n)
	if n == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters and closes c. Calling it twice is harmless.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(n)
	if ok && n == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast offers fr to every client without blocking and returns how many
// queued it.
func (h *Hub) Broadcast(fr can.Frame) int {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	delivered := 0
	for _, c := range clients {
		select {
		case c.Out <- fr:
			delivered++
			continue
		default:
		}
		if h.Policy == PolicyKick {
			metrics.IncHubKick()
			logging.L().Warn("client_kicked", "queue", cap(c.Out))
			c.Close()
			continue
		}
		metrics.IncHubDrop()
	}
	return delivered
}

// Snapshot copies the current client set.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Count is the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
