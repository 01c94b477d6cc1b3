// Package rest reads point-in-time snapshots over plain HTTP. The live
// websocket is the source of truth; these reads hydrate state at session
// start and correct for anything missed while disconnected or
// backgrounded. Callers treat every failure as ignorable.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

const requestTimeout = 5 * time.Second

type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// NewClient builds a snapshot reader against the API base address, e.g.
// "http://api.example.com".
func NewClient(base string, log zerolog.Logger) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: requestTimeout},
		log:  log,
	}
}

// Counters fetches the current unread totals for a user.
func (c *Client) Counters(ctx context.Context, userID string) (*wire.Counters, error) {
	var out wire.Counters
	q := url.Values{"user": {userID}}
	if err := c.getJSON(ctx, "/api/counters?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Feed fetches the current aggregate online-feed snapshot.
func (c *Client) Feed(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.getJSON(ctx, "/api/feed", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Roster fetches the current membership of a room.
func (c *Client) Roster(ctx context.Context, roomID string) ([]wire.RoomMember, error) {
	var out []wire.RoomMember
	if err := c.getJSON(ctx, "/api/rooms/"+url.PathEscape(roomID)+"/roster", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("snapshot fetch failed")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("snapshot fetch: unexpected status %d", resp.StatusCode)
		c.log.Warn().Err(err).Str("path", path).Msg("snapshot fetch failed")
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
