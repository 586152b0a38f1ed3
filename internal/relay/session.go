package relay

import (
	"log"
	"sync"
	"time"

	"dmchat/backend/internal/config"
	"dmchat/backend/internal/models"
	"dmchat/backend/internal/token"

	"github.com/gorilla/websocket"
)

// Session implements relay.Client over a gorilla WebSocket connection.
type Session struct {
	userID   string
	username string

	conn *websocket.Conn
	hub  *Hub
	send chan models.Frame
	once sync.Once
}

func NewSession(hub *Hub, conn *websocket.Conn, claims *token.Claims) *Session {
	return &Session{
		userID:   claims.Subject,
		username: claims.Username,
		conn:     conn,
		hub:      hub,
		send:     make(chan models.Frame, config.SendBufferSize),
	}
}

func (s *Session) UserID() string                   { return s.userID }
func (s *Session) Username() string                 { return s.username }
func (s *Session) SendChannel() chan<- models.Frame { return s.send }

// Run starts the pumps for this connection.
func (s *Session) Run() {
	go s.writePump()
	go s.readPump()
}

// Close closes the send channel, which stops the write pump. The read pump
// stops on its own once the connection is closed.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.send)
	})
}

func (s *Session) readPump() {
	defer func() {
		s.hub.UnregisterCh <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		var frame models.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("read error from user %s: %v", s.userID, err)
			}
			break
		}
		s.hub.InboundCh <- Inbound{From: s, Frame: frame}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				// Channel closed by the hub.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
