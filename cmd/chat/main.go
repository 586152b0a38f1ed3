package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"dmchat/backend/internal/client"
	"dmchat/backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// Terminal chat frontend. Authenticates with the session token from
// CHAT_TOKEN.
//
//	chat <peer_username>     open a conversation
//	chat list                list conversations with unread counts
//	chat search <query>      find users by handle
//	chat setname <username>  set the display handle (onboarding)
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	if len(os.Args) < 2 {
		fmt.Println("Usage: chat <peer_username> | list | search <query> | setname <username>")
		os.Exit(1)
	}

	sessionToken := os.Getenv("CHAT_TOKEN")
	if sessionToken == "" {
		log.Fatal("CHAT_TOKEN is not set")
	}
	selfID, selfName, err := identityFromToken(sessionToken)
	if err != nil {
		log.Fatalf("Cannot read identity from CHAT_TOKEN: %v", err)
	}

	apiURL := getenv("API_URL", "http://localhost:8080")
	relayURL := getenv("RELAY_URL", "http://localhost:4000")

	c := client.New(apiURL, relayURL, sessionToken, selfID)
	defer c.Close()

	ctx := context.Background()
	switch os.Args[1] {
	case "list":
		summaries, err := c.API().Conversations(ctx)
		if err != nil {
			log.Fatalf("Cannot list conversations: %v", err)
		}
		for _, s := range summaries {
			preview := ""
			if s.LastMessage != nil {
				preview = s.LastMessage.Content
			}
			fmt.Printf("%s (unread %d): %s\n", s.Peer.Username, s.Unread, preview)
		}
		return
	case "search":
		if len(os.Args) != 3 {
			fmt.Println("Usage: chat search <query>")
			os.Exit(1)
		}
		users, err := c.API().SearchUsers(ctx, os.Args[2])
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}
		for _, u := range users {
			fmt.Println(u.Username)
		}
		return
	case "setname":
		if len(os.Args) != 3 {
			fmt.Println("Usage: chat setname <username>")
			os.Exit(1)
		}
		if err := c.API().UpdateUsername(ctx, os.Args[2]); err != nil {
			log.Fatalf("Cannot set username: %v", err)
		}
		fmt.Printf("Username set to %s.\n", os.Args[2])
		return
	}
	peerUsername := os.Args[1]

	c.Conn.SubscribeState(func(st client.State) {
		if st.Connected {
			fmt.Println("* connected")
		} else if st.LastError != "" {
			fmt.Printf("* disconnected: %s\n", st.LastError)
		}
	})

	peer, err := c.API().User(ctx, peerUsername)
	if err != nil {
		log.Fatalf("Cannot resolve %s: %v", peerUsername, err)
	}

	ex, err := c.OpenConversation(ctx, *peer)
	if err != nil {
		log.Fatalf("Cannot open conversation: %v", err)
	}
	if err := ex.MarkRead(ctx); err != nil {
		log.Printf("mark read failed: %v", err)
	}

	for _, m := range ex.Messages() {
		printMessage(selfName, peerUsername, selfID, m)
	}
	ex.OnUpdate(func(m client.UIMessage) {
		printMessage(selfName, peerUsername, selfID, m)
	})
	c.Rooms.OnTyping(func(ts models.TypingStatusPayload) {
		if ts.IsTyping {
			fmt.Printf("* %s is typing...\n", peerUsername)
		}
	})

	fmt.Printf("Chatting with %s. /retry <local_id> re-sends a failed message.\n", peerUsername)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if localID, ok := strings.CutPrefix(line, "/retry "); ok {
			if !ex.Retry(strings.TrimSpace(localID)) {
				fmt.Println("* nothing failed under that id")
			}
			continue
		}
		ex.Send(line)
	}
}

func printMessage(selfName, peerName, selfID string, m client.UIMessage) {
	who := peerName
	if m.SenderID == selfID {
		who = selfName
	}
	switch m.Status {
	case client.StatusSending:
		fmt.Printf("[%s] %s (sending, id=%s)\n", who, m.Text, m.LocalID)
	case client.StatusFailed:
		fmt.Printf("[%s] %s (id=%s)\n", who, m.Text, m.LocalID)
	default:
		fmt.Printf("[%s] %s\n", who, m.Text)
	}
}

// identityFromToken reads sub and username out of the session token without
// verifying it; verification happens server side on every request.
func identityFromToken(raw string) (id, username string, err error) {
	claims := jwt.MapClaims{}
	if _, _, err = jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", "", err
	}
	id, _ = claims["sub"].(string)
	username, _ = claims["username"].(string)
	if id == "" {
		return "", "", fmt.Errorf("token has no subject")
	}
	if username == "" {
		username = "me"
	}
	return id, username, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
