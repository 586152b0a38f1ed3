package relay_test

import (
	"sync"

	"dmchat/backend/internal/models"
	"dmchat/backend/internal/relay"
	"dmchat/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of the storage.Storage interface.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveUser(user *models.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockStorage) GetUserByID(id string) (*models.User, error) {
	args := m.Called(id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) GetUserByUsername(username string) (*models.User, error) {
	args := m.Called(username)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) SetUsername(userID, username string) error {
	args := m.Called(userID, username)
	return args.Error(0)
}

func (m *MockStorage) SearchUsers(selfID, query string, limit int) ([]models.User, error) {
	args := m.Called(selfID, query, limit)
	if u := args.Get(0); u != nil {
		return u.([]models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) FindOrCreateConversation(userA, userB string) (*models.Conversation, error) {
	args := m.Called(userA, userB)
	if c := args.Get(0); c != nil {
		return c.(*models.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) RecordMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) GetHistoryBetween(userA, userB string) ([]models.Message, error) {
	args := m.Called(userA, userB)
	if h := args.Get(0); h != nil {
		return h.([]models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) ListConversations(userID string) ([]storage.ConversationSummary, error) {
	args := m.Called(userID)
	if s := args.Get(0); s != nil {
		return s.([]storage.ConversationSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) MarkRead(conversationID, readerID string) error {
	args := m.Called(conversationID, readerID)
	return args.Error(0)
}

func (m *MockStorage) PublishMessage(roomID string, msg models.Message) error {
	args := m.Called(roomID, msg)
	return args.Error(0)
}

func (m *MockStorage) SubscribeRooms() *redis.PubSub {
	args := m.Called()
	return args.Get(0).(*redis.PubSub)
}

// mockClient is an in-memory relay.Client capturing pushed frames.
type mockClient struct {
	userID   string
	username string
	Recv     chan models.Frame
	once     sync.Once
	closed   bool
}

func newMockClient(userID string) *mockClient {
	return &mockClient{
		userID:   userID,
		username: userID,
		Recv:     make(chan models.Frame, 16),
	}
}

func (c *mockClient) UserID() string                   { return c.userID }
func (c *mockClient) Username() string                 { return c.username }
func (c *mockClient) SendChannel() chan<- models.Frame { return c.Recv }
func (c *mockClient) Run()                             {}
func (c *mockClient) Close() {
	c.once.Do(func() {
		c.closed = true
		close(c.Recv)
	})
}

var _ relay.Client = (*mockClient)(nil)
