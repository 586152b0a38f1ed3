package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one immutable direct message. The ordering key is
// (CreatedAt, ID). ClientMsgID is the sender-generated correlation token;
// together with FromUserID it forms the dedup key that collapses the socket
// write and the REST write of the same logical message into a single row.
type Message struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversationId"`
	FromUserID     string    `gorm:"not null;uniqueIndex:uk_sender_client,priority:1" json:"senderId"`
	ToUserID       string    `gorm:"not null;index" json:"receiverId"`
	Content        string    `gorm:"type:text;not null" json:"text"`
	ClientMsgID    string    `gorm:"not null;uniqueIndex:uk_sender_client,priority:2" json:"clientMsgId,omitempty"`
	Read           bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt      time.Time `gorm:"index" json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	// The REST path may omit the client key; every row still needs one so the
	// unique index never collides on empty strings.
	if m.ClientMsgID == "" {
		m.ClientMsgID = uuid.New().String()
	}
	return
}

// Room returns the relay room this message belongs to.
func (m *Message) Room() string {
	return RoomID(m.FromUserID, m.ToUserID)
}
