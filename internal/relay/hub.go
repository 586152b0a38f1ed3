package relay

import (
	"log"

	"dmchat/backend/internal/models"
	"dmchat/backend/internal/storage"
)

// Inbound is a frame read from a client, paired with its origin session.
type Inbound struct {
	From  Client
	Frame models.Frame
}

// RoomMessage is a durable message fanned out through Redis to a room.
type RoomMessage struct {
	Room    string
	Message models.Message
}

// Hub owns every live session and all room membership on this relay node.
// All state is confined to the Run loop; the channels are the only way in.
// Room membership is ephemeral: it exists per connection and is rebuilt by
// clients on every reconnect.
type Hub struct {
	Clients map[string]Client // userID -> live session

	rooms       map[string]map[string]Client   // roomID -> userID -> session
	memberships map[string]map[string]struct{} // userID -> joined roomIDs

	RegisterCh   chan Client
	UnregisterCh chan Client
	InboundCh    chan Inbound
	PubSubCh     chan RoomMessage

	Storage storage.Storage
}

func NewHub(s storage.Storage) *Hub {
	return &Hub{
		Clients:      make(map[string]Client),
		rooms:        make(map[string]map[string]Client),
		memberships:  make(map[string]map[string]struct{}),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		InboundCh:    make(chan Inbound),
		PubSubCh:     make(chan RoomMessage),
		Storage:      s,
	}
}

// Run is the hub's event loop. It must run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.RegisterCh:
			h.register(c)
		case c := <-h.UnregisterCh:
			h.unregister(c)
		case in := <-h.InboundCh:
			h.handleInbound(in)
		case rm := <-h.PubSubCh:
			h.deliver(rm)
		}
	}
}

// register attaches a session. One live session per user: a second login
// replaces and closes the first.
func (h *Hub) register(c Client) {
	if prev, ok := h.Clients[c.UserID()]; ok && prev != c {
		log.Printf("replacing session for user %s", c.UserID())
		h.drop(prev)
		prev.Close()
	}
	h.Clients[c.UserID()] = c
	h.memberships[c.UserID()] = make(map[string]struct{})
}

func (h *Hub) unregister(c Client) {
	current, ok := h.Clients[c.UserID()]
	if !ok || current != c {
		return
	}
	h.drop(c)
	c.Close()
}

// drop removes a session from the client map and every room it joined.
func (h *Hub) drop(c Client) {
	delete(h.Clients, c.UserID())
	for room := range h.memberships[c.UserID()] {
		delete(h.rooms[room], c.UserID())
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.memberships, c.UserID())
}

// handleInbound dispatches a client frame. The event set is closed; anything
// else is answered with an error frame and dropped.
func (h *Hub) handleInbound(in Inbound) {
	// A frame from a replaced or unregistered session may still be queued
	// behind the register that displaced it. Its send channel is closed by
	// now; answering it would panic the loop.
	if h.Clients[in.From.UserID()] != in.From {
		log.Printf("dropping frame %q from stale session of user %s", in.Frame.Event, in.From.UserID())
		return
	}

	switch in.Frame.Event {
	case models.EventJoinDM:
		h.handleJoin(in.From, in.Frame.Join)
	case models.EventSend:
		h.handleSend(in.From, in.Frame.Send)
	case models.EventTyping:
		h.handleTyping(in.From, in.Frame.Typing, true)
	case models.EventStopTyping:
		h.handleTyping(in.From, in.Frame.Typing, false)
	case models.EventJoinAck, models.EventAck, models.EventReceived,
		models.EventTypingStatus, models.EventError:
		h.push(in.From, models.Frame{Event: models.EventError, Error: "server-side event not accepted"})
	default:
		log.Printf("unknown event %q from user %s", in.Frame.Event, in.From.UserID())
		h.push(in.From, models.Frame{Event: models.EventError, Error: "unknown event"})
	}
}

func (h *Hub) handleJoin(from Client, p *models.JoinPayload) {
	if p == nil || p.PeerID == "" {
		h.push(from, models.Frame{Event: models.EventJoinAck, JoinAck: &models.JoinAckPayload{Error: "missing peer id"}})
		return
	}
	if p.PeerID == from.UserID() {
		h.push(from, models.Frame{Event: models.EventJoinAck, JoinAck: &models.JoinAckPayload{PeerID: p.PeerID, Error: "cannot join a room with yourself"}})
		return
	}

	room := models.RoomID(from.UserID(), p.PeerID)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]Client)
	}
	h.rooms[room][from.UserID()] = from
	h.memberships[from.UserID()][room] = struct{}{}

	h.push(from, models.Frame{Event: models.EventJoinAck, JoinAck: &models.JoinAckPayload{PeerID: p.PeerID, Room: room}})
}

// handleSend durably records the message, publishes it for fan-out, and
// answers with exactly one ack carrying the client's correlation token.
func (h *Hub) handleSend(from Client, p *models.SendPayload) {
	if p == nil || p.ToUserID == "" || p.Text == "" {
		h.ack(from, &models.AckPayload{LocalID: localID(p), Error: "empty recipient or text"})
		return
	}

	msg := models.Message{
		FromUserID:  from.UserID(),
		ToUserID:    p.ToUserID,
		Content:     p.Text,
		ClientMsgID: p.LocalID,
	}
	if err := h.Storage.RecordMessage(&msg); err != nil {
		log.Printf("ERROR: failed to record message from %s: %v", from.UserID(), err)
		h.ack(from, &models.AckPayload{LocalID: p.LocalID, Error: "message not recorded"})
		return
	}

	if err := h.Storage.PublishMessage(msg.Room(), msg); err != nil {
		// The message is durable; delivery will catch up on the next history
		// load even if fan-out fails now.
		log.Printf("ERROR: failed to publish message %s: %v", msg.ID, err)
	}

	h.ack(from, &models.AckPayload{LocalID: p.LocalID, OK: true, ID: msg.ID, CreatedAt: msg.CreatedAt})
}

// handleTyping forwards a fire-and-forget presence signal to the peer's
// sessions in the shared room. No ack, no persistence.
func (h *Hub) handleTyping(from Client, p *models.TypingPayload, isTyping bool) {
	if p == nil || p.PeerID == "" {
		return
	}
	room := models.RoomID(from.UserID(), p.PeerID)
	status := &models.TypingStatusPayload{FromUserID: from.UserID(), IsTyping: isTyping}
	for userID, c := range h.rooms[room] {
		if userID == from.UserID() {
			continue
		}
		h.push(c, models.Frame{Event: models.EventTypingStatus, TypingStatus: status})
	}
}

// deliver pushes a fanned-out message to every room member except the sender.
func (h *Hub) deliver(rm RoomMessage) {
	for userID, c := range h.rooms[rm.Room] {
		if userID == rm.Message.FromUserID {
			continue
		}
		msg := rm.Message
		h.push(c, models.Frame{Event: models.EventReceived, Message: &msg})
	}
}

func (h *Hub) ack(c Client, p *models.AckPayload) {
	h.push(c, models.Frame{Event: models.EventAck, Ack: p})
}

// push hands a frame to a session without blocking the loop. A client whose
// buffer is full is dropped.
func (h *Hub) push(c Client, f models.Frame) {
	select {
	case c.SendChannel() <- f:
	default:
		log.Printf("dropping slow client %s", c.UserID())
		h.drop(c)
		c.Close()
	}
}

func localID(p *models.SendPayload) string {
	if p == nil {
		return ""
	}
	return p.LocalID
}
