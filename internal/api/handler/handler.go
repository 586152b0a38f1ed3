package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dmchat/backend/internal/models"
	"dmchat/backend/internal/storage"
	"dmchat/backend/internal/token"

	"github.com/gin-gonic/gin"
)

// RelayNotifier is the server-to-server channel to the relay: after a durable
// REST write, the relay is told so out-of-band connected peers are reached.
type RelayNotifier interface {
	Notify(msg models.Message) error
}

// Handler wires the API's HTTP surface to storage, the token issuer and the
// relay notifier.
type Handler struct {
	Storage  storage.Storage
	Issuer   *token.Issuer
	Verifier *token.Verifier
	Notifier RelayNotifier
}

func NewHandler(s storage.Storage, issuer *token.Issuer, verifier *token.Verifier, notifier RelayNotifier) *Handler {
	return &Handler{Storage: s, Issuer: issuer, Verifier: verifier, Notifier: notifier}
}

// RegisterRoutes mounts all API routes.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	authed := r.Group("/", h.Auth())
	authed.GET("/socket/token", h.GetSocketToken)
	authed.GET("/conversation", h.ListConversations)
	authed.GET("/conversation/:username", h.GetConversation)
	authed.POST("/conversation/:username", h.PostMessage)
	authed.POST("/messages/mark-read", h.MarkRead)
	authed.POST("/profile/update", h.UpdateProfile)
	authed.GET("/users", h.SearchUsers)
	authed.GET("/users/:username", h.GetUser)
}

// HTTPNotifier implements RelayNotifier over the relay's /emit-message
// endpoint, authenticated with the shared server secret.
type HTTPNotifier struct {
	RelayURL string
	Secret   string
	HTTP     *http.Client
}

func NewHTTPNotifier(relayURL, secret string) *HTTPNotifier {
	return &HTTPNotifier{
		RelayURL: relayURL,
		Secret:   secret,
		HTTP:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *HTTPNotifier) Notify(msg models.Message) error {
	payload, err := json.Marshal(gin.H{"message": msg})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, n.RelayURL+"/emit-message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Server-Secret", n.Secret)

	resp, err := n.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay notify failed: %d", resp.StatusCode)
	}
	return nil
}
