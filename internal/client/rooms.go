package client

import (
	"context"

	"dmchat/backend/internal/models"
)

// Rooms coordinates two-party room membership and presence signals over the
// shared connection. Typing signals are best effort: no ack, no persistence,
// and a stuck "is typing" is the subscriber's to clear.
type Rooms struct {
	conn *Conn
}

func NewRooms(conn *Conn) *Rooms {
	return &Rooms{conn: conn}
}

// JoinDM joins the room with the peer; must be called before sending or
// receiving is meaningful for that peer.
func (r *Rooms) JoinDM(ctx context.Context, peerID string) error {
	return r.conn.JoinDM(ctx, peerID)
}

func (r *Rooms) SendTyping(peerID string)     { r.conn.SendTyping(peerID) }
func (r *Rooms) SendStopTyping(peerID string) { r.conn.SendStopTyping(peerID) }

// OnTyping subscribes to typing:status pushes.
func (r *Rooms) OnTyping(fn func(models.TypingStatusPayload)) {
	r.conn.OnTyping(fn)
}
