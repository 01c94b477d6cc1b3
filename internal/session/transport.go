package session

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the session uses. Tests
// substitute a scripted implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a transport to the realtime endpoint.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// WebsocketDialer is the production dialer.
func WebsocketDialer(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
