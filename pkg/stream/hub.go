// Package stream fans published cell snapshots out to live subscribers.
package stream

import (
	"sync"
)

// AllCells subscribes to every cell.
const AllCells = ""

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by cell name.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	stopOnce  sync.Once
}

type message struct {
	cell    string
	payload []byte
}

type subscription struct {
	cell   string
	client Subscriber
}

// NewHub creates an initialized Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = make(map[string]map[Subscriber]struct{})
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.cell]; !ok {
				h.clients[sub.cell] = make(map[Subscriber]struct{})
			}
			h.clients[sub.cell][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			h.remove(sub.cell, sub.client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg.cell, msg.payload)
			if msg.cell != AllCells {
				h.deliver(AllCells, msg.payload)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) deliver(cell string, payload []byte) {
	for c := range h.clients[cell] {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.remove(cell, c)
		}
	}
}

func (h *Hub) remove(cell string, c Subscriber) {
	clients, ok := h.clients[cell]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.clients, cell)
	}
}

// Register adds a client to a cell stream. Use AllCells to follow every cell.
func (h *Hub) Register(cell string, client Subscriber) {
	select {
	case h.register <- subscription{cell: cell, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(cell string, client Subscriber) {
	select {
	case h.unreg <- subscription{cell: cell, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all subscribers of cell. It returns false when
// the hub is stopped or its queue is full and the payload was dropped.
func (h *Hub) Broadcast(cell string, payload []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message{cell: cell, payload: payload}:
		return true
	default:
		return false
	}
}

// Subscribers returns the number of clients following cell.
func (h *Hub) Subscribers(cell string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[cell])
}

// Stop closes every subscriber and ends the dispatch loop. Safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
