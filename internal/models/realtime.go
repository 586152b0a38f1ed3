package models

import "time"

// EventKind names a frame type on the relay wire. The set is closed: both the
// relay and the client dispatch with an exhaustive switch and drop anything
// they do not recognize.
type EventKind string

const (
	// client -> relay
	EventJoinDM     EventKind = "join_dm"
	EventSend       EventKind = "message:send"
	EventTyping     EventKind = "typing"
	EventStopTyping EventKind = "stop_typing"

	// relay -> client
	EventJoinAck      EventKind = "join_ack"
	EventAck          EventKind = "ack"
	EventReceived     EventKind = "message:received"
	EventTypingStatus EventKind = "typing:status"
	EventError        EventKind = "error"
)

// Frame is the single JSON envelope exchanged over the socket. Exactly one
// payload field is populated, matching Event.
type Frame struct {
	Event        EventKind            `json:"event"`
	Join         *JoinPayload         `json:"join,omitempty"`
	JoinAck      *JoinAckPayload      `json:"joinAck,omitempty"`
	Send         *SendPayload         `json:"send,omitempty"`
	Ack          *AckPayload          `json:"ack,omitempty"`
	Message      *Message             `json:"message,omitempty"`
	Typing       *TypingPayload       `json:"typing,omitempty"`
	TypingStatus *TypingStatusPayload `json:"typingStatus,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// JoinPayload requests membership in the two-party room with the given peer.
type JoinPayload struct {
	PeerID string `json:"peerId"`
}

// JoinAckPayload is the relay's one-time answer to a join_dm request.
type JoinAckPayload struct {
	PeerID string `json:"peerId"`
	Room   string `json:"room,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SendPayload carries an outgoing message. LocalID is the client correlation
// token echoed back in the acknowledgement.
type SendPayload struct {
	ToUserID string `json:"toUserId"`
	Text     string `json:"text"`
	LocalID  string `json:"localId"`
}

// AckPayload is the exactly-once acknowledgement of a message:send.
type AckPayload struct {
	LocalID   string    `json:"localId"`
	OK        bool      `json:"ok"`
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// TypingPayload scopes a fire-and-forget presence signal to a peer's room.
type TypingPayload struct {
	PeerID string `json:"peerId"`
}

// TypingStatusPayload is pushed to the peer when typing starts or stops.
type TypingStatusPayload struct {
	FromUserID string `json:"fromUserId"`
	IsTyping   bool   `json:"isTyping"`
}
