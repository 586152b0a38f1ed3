package relay

import (
	"encoding/json"
	"log"
	"strings"

	"dmchat/backend/internal/models"
)

// StartPubSubListener subscribes to the room channels on Redis and feeds
// fanned-out messages into the hub loop. It is started by main, not by Run,
// so hub tests can inject into PubSubCh directly.
func (h *Hub) StartPubSubListener() {
	go func() {
		pubsub := h.Storage.SubscribeRooms()
		defer pubsub.Close()

		for m := range pubsub.Channel() {
			var msg models.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Printf("ERROR: bad pubsub payload on %s: %v", m.Channel, err)
				continue
			}
			room := strings.TrimPrefix(m.Channel, "msg:")
			h.PubSubCh <- RoomMessage{Room: room, Message: msg}
		}
	}()
}
