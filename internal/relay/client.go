package relay

import "dmchat/backend/internal/models"

// Client is the interface for one live authenticated connection. It abstracts
// the underlying transport so the Hub can manage sessions uniformly and tests
// can substitute in-memory clients.
type Client interface {
	// UserID returns the authenticated user id from the SocketToken.
	UserID() string
	// Username returns the display handle from the SocketToken.
	Username() string

	// SendChannel returns the channel the Hub pushes outbound frames into.
	SendChannel() chan<- models.Frame

	// Run starts the connection's read and write pumps.
	Run()
	// Close shuts down the outbound channel, stopping the write pump.
	Close()
}
