package stream

import "sync"

// Hub is the central broadcaster for connected admin dashboards. Unlike a
// multi-topic pub/sub hub, every connected Client receives every published
// Message — there is only one topic, "deliveries".
//
// Register/Unregister are serialized through a single event-loop goroutine
// (Run) via channels; Run takes the write lock while it changes the client
// set or closes a client's send channel. Publish holds the read lock while it
// offers a message to each client with a non-blocking send, so a send channel
// is never closed mid-send and a slow client can't stall the event loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. Call exactly once, in its own goroutine.
// It exits when done is closed (server shutdown).
func (h *Hub) Run(done <-chan struct{}) {
	defer close(h.stopped)

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case <-done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Publish sends msg to every connected client. Safe to call from any
// goroutine — the dispatcher calls this once per LogEntry appended.
// A client whose send buffer is full is disconnected rather than allowed to
// block delivery to every other connected dashboard.
func (h *Hub) Publish(msg Message) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister <- c
	}
}

// Subscribe registers client with the hub.
func (h *Hub) Subscribe(c *Client) { h.register <- c }

// Unsubscribe removes client from the hub.
func (h *Hub) Unsubscribe(c *Client) { h.unregister <- c }

// ConnectedCount returns the number of currently connected dashboards.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
