package server

import (
	"sync"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

// Hub tracks registered clients and fans events out by presence subject,
// feed subscription or explicit client id. A client whose outbound buffer
// overflows is unregistered and closed.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID()] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
	}
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// PublishSubject delivers ev to every client subscribed to the subject.
func (h *Hub) PublishSubject(subject string, ev wire.Event) {
	for _, client := range h.snapshot() {
		if !client.IsSubscribed(subject) {
			continue
		}
		if !client.Queue(ev) {
			h.Unregister(client.ID())
		}
	}
}

// PublishFeed delivers ev to every client subscribed to the online feed.
func (h *Hub) PublishFeed(ev wire.Event) {
	for _, client := range h.snapshot() {
		if !client.WantsFeed() {
			continue
		}
		if !client.Queue(ev) {
			h.Unregister(client.ID())
		}
	}
}

// QueueTo delivers ev to one client by id.
func (h *Hub) QueueTo(clientID string, ev wire.Event) {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !client.Queue(ev) {
		h.Unregister(clientID)
	}
}

// ClientsOfUser returns every connection held by one identity.
func (h *Hub) ClientsOfUser(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for _, client := range h.clients {
		if client.UserID() == userID {
			out = append(out, client)
		}
	}
	return out
}
