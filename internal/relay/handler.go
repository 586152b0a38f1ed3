package relay

import (
	"net/http"
	"strings"

	"dmchat/backend/internal/models"
	"dmchat/backend/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect cross-origin from the web app host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the relay's HTTP surface: the WebSocket upgrade and the
// server-to-server notification endpoint.
type Handler struct {
	Hub          *Hub
	Verifier     *token.Verifier
	ServerSecret string
}

func NewHandler(hub *Hub, verifier *token.Verifier, serverSecret string) *Handler {
	return &Handler{Hub: hub, Verifier: verifier, ServerSecret: serverSecret}
}

// ServeWS validates the SocketToken, upgrades the connection and attaches the
// session to the hub. The token is accepted as a Bearer header or, for
// browser clients that cannot set headers on the handshake, a query param.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		tokenString = c.Query("token")
	}
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "socket token missing"})
		return
	}

	claims, err := h.Verifier.Verify(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token or expired"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to upgrade connection"})
		return
	}

	sess := NewSession(h.Hub, conn, claims)
	h.Hub.RegisterCh <- sess
	sess.Run()
}

// EmitMessage is the API's cross-process notification: a message written on
// the REST path gets published here so out-of-band connected peers are still
// reached. Guarded by the shared server secret.
func (h *Handler) EmitMessage(c *gin.Context) {
	if c.GetHeader("X-Server-Secret") != h.ServerSecret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad server secret"})
		return
	}

	var body struct {
		Message models.Message `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Message.ID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed message"})
		return
	}

	if err := h.Hub.Storage.PublishMessage(body.Message.Room(), body.Message); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
