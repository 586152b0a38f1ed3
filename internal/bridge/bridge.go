// Package bridge is the client-side consumer of the API process: the durable
// write path, the history load and the SocketToken mint. The socket layer
// delivers in real time; this package is what makes messages survive it.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dmchat/backend/internal/models"
	"dmchat/backend/internal/storage"
)

var (
	ErrUnauthorized = errors.New("bridge: unauthorized")
	ErrNotFound     = errors.New("bridge: not found")
)

// Client talks to the API process. SessionToken authenticates the caller; the
// session system that mints it is outside this core.
type Client struct {
	BaseURL      string
	SessionToken string
	HTTP         *http.Client
}

func NewClient(baseURL, sessionToken string) *Client {
	return &Client{
		BaseURL:      baseURL,
		SessionToken: sessionToken,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Token mints a fresh SocketToken for a connection attempt.
func (c *Client) Token(ctx context.Context) (string, error) {
	var out struct {
		OK   bool `json:"ok"`
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
		Error string `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, "/socket/token", nil, &out); err != nil {
		return "", err
	}
	if !out.OK || out.Data.Token == "" {
		return "", fmt.Errorf("bridge: token mint failed: %s", out.Error)
	}
	return out.Data.Token, nil
}

// History returns the full ordered conversation with the named peer,
// ascending by creation time.
func (c *Client) History(ctx context.Context, peerUsername string) ([]models.Message, error) {
	var out []models.Message
	if err := c.do(ctx, http.MethodGet, "/conversation/"+peerUsername, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send durably records a message to the named peer. clientMsgID ties this
// write to the socket-path write of the same logical message, so the two
// paths collapse to one row.
func (c *Client) Send(ctx context.Context, peerUsername, content, clientMsgID string) (*models.Message, error) {
	body := map[string]string{"content": content, "clientMsgId": clientMsgID}
	var out models.Message
	if err := c.do(ctx, http.MethodPost, "/conversation/"+peerUsername, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations lists the caller's conversations with previews and unread
// counts.
func (c *Client) Conversations(ctx context.Context) ([]storage.ConversationSummary, error) {
	var out []storage.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/conversation", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead flags the peer's messages in a conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	body := map[string]string{"conversationId": conversationID}
	return c.do(ctx, http.MethodPost, "/messages/mark-read", body, nil)
}

// UpdateUsername assigns the caller's display handle during onboarding. The
// server rejects reassignment and handles owned by someone else.
func (c *Client) UpdateUsername(ctx context.Context, username string) error {
	body := map[string]string{"username": username}
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/profile/update", body, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("bridge: username update failed: %s", out.Error)
	}
	return nil
}

// SearchUsers matches handles against a substring query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.PublicUser, error) {
	var out []models.PublicUser
	if err := c.do(ctx, http.MethodGet, "/users?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// User resolves a public profile by username.
func (c *Client) User(ctx context.Context, username string) (*models.PublicUser, error) {
	var out models.PublicUser
	if err := c.do(ctx, http.MethodGet, "/users/"+username, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SessionToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("bridge: %s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
