package client

import (
	"context"
	"log"

	"dmchat/backend/internal/bridge"
	"dmchat/backend/internal/models"
)

// Client bundles the pieces a chat frontend needs: the REST bridge for
// durable state, the socket connection for live traffic, and the room
// coordinator on top of it.
type Client struct {
	Conn  *Conn
	Rooms *Rooms

	api    *bridge.Client
	selfID string
}

// New wires a client runtime for one authenticated user. selfID is the
// user id carried in the session token's subject.
func New(apiURL, relayURL, sessionToken, selfID string) *Client {
	api := bridge.NewClient(apiURL, sessionToken)
	conn := NewConn(relayURL, func(ctx context.Context) (string, error) {
		return api.Token(ctx)
	})
	return &Client{
		Conn:   conn,
		Rooms:  NewRooms(conn),
		api:    api,
		selfID: selfID,
	}
}

// API exposes the REST bridge for calls outside an open conversation, such
// as user lookup and the conversation list.
func (c *Client) API() *bridge.Client {
	return c.api
}

// OpenConversation prepares a live exchange with the peer: it brings the
// transport up, joins the shared room, and loads the durable history. A dead
// relay does not fail the open; history still loads and sends fall back to
// the durable path until the reconnect loop succeeds.
func (c *Client) OpenConversation(ctx context.Context, peer models.PublicUser) (*Exchange, error) {
	if err := c.Conn.EnsureConnected(ctx); err != nil {
		log.Printf("open conversation: transport unavailable, continuing degraded: %v", err)
	}

	ex := NewExchange(c.Conn, c.api, c.selfID, peer)
	ex.Attach()

	if err := c.Rooms.JoinDM(ctx, peer.ID); err != nil {
		log.Printf("open conversation: join failed, relying on re-join: %v", err)
	}

	if err := ex.LoadHistory(ctx); err != nil {
		return nil, err
	}
	return ex, nil
}

// Close tears the transport down for good.
func (c *Client) Close() {
	c.Conn.Close()
}
