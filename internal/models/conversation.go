package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Conversation is the durable two-party channel between an unordered pair of
// users. Exactly one row exists per pair: PairKey stores the canonical
// "min:max" form of the participant ids and carries a unique index.
// Conversations are created lazily on first contact and never deleted.
type Conversation struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	PairKey        string         `gorm:"uniqueIndex;not null" json:"-"`
	ParticipantIDs pq.StringArray `gorm:"type:text[]" json:"participantIds"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// BeforeCreate assigns a UUID and derives PairKey from the participants.
func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.PairKey == "" && len(c.ParticipantIDs) == 2 {
		c.PairKey = PairKey(c.ParticipantIDs[0], c.ParticipantIDs[1])
	}
	return
}

// PairKey canonicalizes an unordered identity pair so that
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// RoomID names the relay room scoping realtime events to one conversation.
func RoomID(a, b string) string {
	return "dm:" + PairKey(a, b)
}
