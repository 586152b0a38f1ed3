package storage

import (
	"context"
	"errors"

	"dmchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a user or conversation does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrUsernameSet is returned when a user who already has a handle tries
	// to set another one.
	ErrUsernameSet = errors.New("storage: username already set")
	// ErrUsernameTaken is returned when the requested handle belongs to
	// another user.
	ErrUsernameTaken = errors.New("storage: username already taken")
)

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID          string            `json:"id"`
	Peer        models.PublicUser `json:"peer"`
	LastMessage *models.Message   `json:"lastMessage,omitempty"`
	Unread      int64             `json:"unread"`
}

type Storage interface {
	SaveUser(user *models.User) error
	GetUserByID(id string) (*models.User, error)
	GetUserByUsername(username string) (*models.User, error)
	SetUsername(userID, username string) error
	SearchUsers(selfID, query string, limit int) ([]models.User, error)

	FindOrCreateConversation(userA, userB string) (*models.Conversation, error)
	RecordMessage(msg *models.Message) error
	GetHistoryBetween(userA, userB string) ([]models.Message, error)
	ListConversations(userID string) ([]ConversationSummary, error)
	MarkRead(conversationID, readerID string) error

	PublishMessage(roomID string, msg models.Message) error
	SubscribeRooms() *redis.PubSub
}

// Service implements Storage over PostgreSQL (durable state) and Redis
// (cross-node fan-out).
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}
