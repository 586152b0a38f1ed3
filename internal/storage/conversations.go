package storage

import (
	"errors"
	"log"

	"dmchat/backend/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// FindOrCreateConversation returns the single conversation for the unordered
// (userA, userB) pair, creating it lazily on first contact. The unique index
// on pair_key makes concurrent creates collapse to one row.
func (s *Service) FindOrCreateConversation(userA, userB string) (*models.Conversation, error) {
	key := models.PairKey(userA, userB)

	var conv models.Conversation
	err := s.DB.Where("pair_key = ?", key).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	a, b := userA, userB
	if b < a {
		a, b = b, a
	}
	conv = models.Conversation{PairKey: key, ParticipantIDs: pq.StringArray{a, b}}
	if err := s.DB.Create(&conv).Error; err != nil {
		// Lost the race with a concurrent create for the same pair.
		if ferr := s.DB.Where("pair_key = ?", key).First(&conv).Error; ferr == nil {
			return &conv, nil
		}
		log.Printf("ERROR: failed to create conversation %s: %v", key, err)
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns every conversation the user participates in, each
// with the peer profile, last-message preview and unread count.
func (s *Service) ListConversations(userID string) ([]ConversationSummary, error) {
	var convs []models.Conversation
	if err := s.DB.Where("? = ANY(participant_ids)", userID).Find(&convs).Error; err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		peerID := ""
		for _, id := range conv.ParticipantIDs {
			if id != userID {
				peerID = id
			}
		}

		peer, err := s.GetUserByID(peerID)
		if err != nil {
			log.Printf("WARNING: conversation %s references unknown user %s", conv.ID, peerID)
			continue
		}

		summary := ConversationSummary{ID: conv.ID, Peer: peer.Public()}

		var last models.Message
		err = s.DB.Where("conversation_id = ?", conv.ID).
			Order("created_at desc, id desc").
			First(&last).Error
		if err == nil {
			summary.LastMessage = &last
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		if err := s.DB.Model(&models.Message{}).
			Where("conversation_id = ? AND to_user_id = ? AND read = ?", conv.ID, userID, false).
			Count(&summary.Unread).Error; err != nil {
			return nil, err
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// MarkRead flags every message addressed to the reader in the conversation as
// read. This drives the sent -> read transition on the next history load.
func (s *Service) MarkRead(conversationID, readerID string) error {
	return s.DB.Model(&models.Message{}).
		Where("conversation_id = ? AND to_user_id = ? AND read = ?", conversationID, readerID, false).
		Update("read", true).Error
}
