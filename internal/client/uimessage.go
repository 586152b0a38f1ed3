package client

import "time"

// Status is the client-local delivery state of one message.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusRead    Status = "read"
	StatusFailed  Status = "failed"
)

// UIMessage is the client-local projection of a message: the durable fields
// plus delivery status and the correlation token that ties an optimistic
// entry to its server-confirmed counterpart.
type UIMessage struct {
	ID         string    `json:"id"` // durable id, or the local id until confirmed
	LocalID    string    `json:"localId,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     Status    `json:"status"`
}
