package storage

import (
	"encoding/json"
	"errors"
	"log"

	"dmchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RecordMessage durably writes a message, deduplicating on the sender's client
// key. The socket path and the REST path may both record the same logical
// message; whichever lands second gets the surviving row back in msg.
func (s *Service) RecordMessage(msg *models.Message) error {
	if msg.ClientMsgID != "" {
		var existing models.Message
		err := s.DB.Where("from_user_id = ? AND client_msg_id = ?", msg.FromUserID, msg.ClientMsgID).
			First(&existing).Error
		if err == nil {
			*msg = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	conv, err := s.FindOrCreateConversation(msg.FromUserID, msg.ToUserID)
	if err != nil {
		return err
	}
	msg.ConversationID = conv.ID

	if err := s.DB.Create(msg).Error; err != nil {
		// Lost the race with the other write path; the unique index on
		// (from_user_id, client_msg_id) kept exactly one row.
		if msg.ClientMsgID != "" {
			var existing models.Message
			if ferr := s.DB.Where("from_user_id = ? AND client_msg_id = ?", msg.FromUserID, msg.ClientMsgID).
				First(&existing).Error; ferr == nil {
				*msg = existing
				return nil
			}
		}
		log.Printf("ERROR: failed to record message from %s: %v", msg.FromUserID, err)
		return err
	}
	return nil
}

// GetHistoryBetween returns the full ordered conversation between two users,
// ascending by (created_at, id).
func (s *Service) GetHistoryBetween(userA, userB string) ([]models.Message, error) {
	var history []models.Message
	err := s.DB.Where(
		"(from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)",
		userA, userB, userB, userA,
	).Order("created_at asc, id asc").Find(&history).Error
	if err != nil {
		log.Printf("ERROR: failed to load history for %s: %v", models.PairKey(userA, userB), err)
		return nil, err
	}
	return history, nil
}

// PublishMessage fans the message out over Redis Pub/Sub so every relay node
// with a member of the room delivers it, regardless of which process wrote it.
func (s *Service) PublishMessage(roomID string, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, "msg:"+roomID, payload).Err()
}

// SubscribeRooms subscribes to every room channel.
func (s *Service) SubscribeRooms() *redis.PubSub {
	return s.Redis.PSubscribe(s.Ctx, "msg:*")
}
