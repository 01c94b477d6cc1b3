package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

const outboundBufferSize = 64

// Client is one registered websocket connection and its subscription
// state: the presence subjects it watches and whether it wants the
// aggregate online feed.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn

	send     chan wire.Event
	done     chan struct{}
	mu       sync.RWMutex
	subjects map[string]struct{}
	feed     bool
	close    sync.Once
}

func NewClient(id, userID string, conn *websocket.Conn) *Client {
	return &Client{
		id:       id,
		userID:   userID,
		conn:     conn,
		send:     make(chan wire.Event, outboundBufferSize),
		done:     make(chan struct{}),
		subjects: make(map[string]struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.userID }

// Queue enqueues an event for delivery. Returns false when the client is
// closed or its outbound buffer is full; the hub treats that as a dead
// client.
func (c *Client) Queue(ev wire.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) WriteLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (c *Client) Close() {
	c.close.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) Subscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.subjects[id] = struct{}{}
	}
}

func (c *Client) Unsubscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.subjects, id)
	}
}

func (c *Client) IsSubscribed(subject string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subjects[subject]
	return ok
}

func (c *Client) SetFeed(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feed = on
}

func (c *Client) WantsFeed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feed
}
